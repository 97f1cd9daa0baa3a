package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quotegate/internal/quote"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(rdb, ttl, zap.NewNop()), mr
}

// go test -v --run TestRedisPutGet
func TestRedisPutGet(t *testing.T) {
	r, _ := newTestRedis(t, 2*time.Second)

	key := testKey("005930")
	if _, ok := r.Get(key); ok {
		t.Fatal("empty cache should miss")
	}

	r.Put(key, &quote.Record{Symbol: "005930", Price: "71000"})

	got, ok := r.Get(key)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got.Symbol != "005930" || got.Price != "71000" {
		t.Errorf("record = %+v, want symbol 005930 price 71000", got)
	}
}

// go test -v --run TestRedisTTLExpiry
func TestRedisTTLExpiry(t *testing.T) {
	r, mr := newTestRedis(t, 2*time.Second)

	key := testKey("005930")
	r.Put(key, &quote.Record{Symbol: "005930", Price: "71000"})

	mr.FastForward(1 * time.Second)
	if _, ok := r.Get(key); !ok {
		t.Fatal("record younger than TTL should hit")
	}

	mr.FastForward(2 * time.Second)
	if _, ok := r.Get(key); ok {
		t.Fatal("record older than TTL should miss")
	}
}

// go test -v --run TestRedisClear
func TestRedisClear(t *testing.T) {
	r, _ := newTestRedis(t, time.Minute)

	r.Put(testKey("AAA"), &quote.Record{Symbol: "AAA"})
	r.Put(testKey("BBB"), &quote.Record{Symbol: "BBB"})

	r.Clear()

	if _, ok := r.Get(testKey("AAA")); ok {
		t.Error("AAA should be gone after Clear")
	}
	if _, ok := r.Get(testKey("BBB")); ok {
		t.Error("BBB should be gone after Clear")
	}
}
