// Package gateway wires the full pipeline: instrument master, credentials,
// upstream feed clients, quote cache, subscription mux, broadcast scheduler
// and the downstream websocket server.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quotegate/config"
	"quotegate/internal/broadcast"
	"quotegate/internal/cache"
	"quotegate/internal/credentials"
	"quotegate/internal/feed"
	"quotegate/internal/mux"
	"quotegate/internal/quote"
	"quotegate/internal/refdata"
	"quotegate/internal/server"
	"quotegate/pkg/storage/postgres"
)

// Exchange codes served by the domestic and gold feeds. Overseas venues are
// recognized through the market alias table.
const (
	exchangeKRX  = "KRX"
	exchangeGold = "GOLD"
)

// Gateway owns every running component so Shutdown can stop them in order.
type Gateway struct {
	cfg *config.Config
	log *zap.Logger

	pg        *postgres.PostgresClient
	refCancel context.CancelFunc

	clients   map[string]*feed.Client // feed name -> client
	scheduler *broadcast.Scheduler
	httpSrv   *http.Server
	stopSweep func()
}

// Start builds and starts the whole pipeline. The returned Gateway keeps
// running until Shutdown.
func Start(cfg *config.Config, log *zap.Logger) (*Gateway, error) {
	g := &Gateway{
		cfg:     cfg,
		log:     log,
		clients: make(map[string]*feed.Client),
	}

	// Instrument master from Postgres; it decides the integrated-tape
	// feed-ids for domestic symbols.
	refStore := refdata.NewStore()
	if cfg.Feeds.Domestic.Enabled {
		pg, err := postgres.InitializeAndMigrateInstruments(cfg.Postgres, cfg.Env, true)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		g.pg = pg

		loader := &refdata.Loader{Client: pg, Store: refStore, Logger: log}
		refCtx, cancel := context.WithCancel(context.Background())
		g.refCancel = cancel
		loader.Start(refCtx)
	}

	store := g.buildCache()

	cfg.Credentials.Resolve(cfg.Env)
	approval := credentials.NewKISApproval(
		cfg.Credentials.KIS.TokenURL, cfg.Credentials.KIS.AppKey,
		cfg.Credentials.KIS.AppSecret, cfg.Credentials.Timeout, log)
	tokens := credentials.NewKiwoomToken(
		cfg.Credentials.Kiwoom.TokenURL, cfg.Credentials.Kiwoom.AppKey,
		cfg.Credentials.Kiwoom.AppSecret, cfg.Credentials.Timeout, log)

	if cfg.Feeds.Domestic.Enabled {
		g.clients["domestic"] = feed.NewClient(
			feed.Spec{
				Name:         "domestic",
				Exchange:     exchangeKRX,
				Layout:       feed.LayoutKIS,
				Maps:         feed.DomesticMaps(),
				PingInterval: cfg.Feeds.Domestic.PingInterval,
				PongTimeout:  cfg.Feeds.Domestic.PongTimeout,
			},
			feed.NewKISScheme(approval, feed.DomesticResolver(refStore.NXTSupported), log),
			store,
			feed.GorillaDialer(cfg.Feeds.Domestic.URL, cfg.Feeds.Domestic.ConnectTimeout),
			log,
		)
	}
	if cfg.Feeds.Foreign.Enabled {
		g.clients["foreign"] = feed.NewClient(
			feed.Spec{
				Name:         "foreign",
				Exchange:     "NAS",
				Layout:       feed.LayoutKIS,
				Maps:         feed.ForeignMaps(),
				PingInterval: cfg.Feeds.Foreign.PingInterval,
				PongTimeout:  cfg.Feeds.Foreign.PongTimeout,
			},
			feed.NewKISScheme(approval, feed.ForeignResolver(), log),
			store,
			feed.GorillaDialer(cfg.Feeds.Foreign.URL, cfg.Feeds.Foreign.ConnectTimeout),
			log,
		)
	}
	if cfg.Feeds.Gold.Enabled {
		g.clients["gold"] = feed.NewClient(
			feed.Spec{
				Name:         "gold",
				Exchange:     exchangeGold,
				Layout:       feed.LayoutKiwoom,
				Maps:         feed.GoldMaps(),
				PingInterval: cfg.Feeds.Gold.PingInterval,
				PongTimeout:  cfg.Feeds.Gold.PongTimeout,
			},
			feed.NewKiwoomScheme(tokens, log),
			store,
			feed.GorillaDialer(cfg.Feeds.Gold.URL, cfg.Feeds.Gold.ConnectTimeout),
			log,
		)
	}

	// Eager connect so the feeds are authenticated before the first
	// downstream subscribe; a failure here is retried lazily.
	for name, c := range g.clients {
		go func(name string, c *feed.Client) {
			if err := c.Connect(context.Background()); err != nil {
				log.Warn("startup connect failed, will connect on first subscribe",
					zap.String("feed", name), zap.Error(err))
			}
		}(name, c)
	}

	m := mux.New(g.router(), log)

	g.scheduler = broadcast.NewScheduler(cfg.Broadcast.Interval, m, store, log)
	g.scheduler.Start()

	httpMux := http.NewServeMux()
	httpMux.Handle(cfg.Server.WSPath, server.New(m, instrumentValidator(refStore), log).Handler())
	g.httpSrv = &http.Server{Addr: cfg.Server.Addr, Handler: httpMux}
	go func() {
		log.Info("downstream server listening",
			zap.String("addr", cfg.Server.Addr), zap.String("path", cfg.Server.WSPath))
		if err := g.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("downstream server stopped", zap.Error(err))
		}
	}()

	return g, nil
}

// instrumentValidator checks KRX subscribe requests against the instrument
// master. Other venues pass through, and so does everything while the master
// is empty (Postgres unreachable at startup).
func instrumentValidator(refStore *refdata.Store) server.Validator {
	return func(key quote.InstrumentKey) error {
		if !strings.EqualFold(key.Exchange, exchangeKRX) || refStore.Len() == 0 {
			return nil
		}
		if _, ok := refStore.Lookup(key.Exchange, key.Symbol); !ok {
			return fmt.Errorf("unknown instrument %s:%s", key.Exchange, key.Symbol)
		}
		return nil
	}
}

// router maps an instrument to the feed client that carries it: KRX symbols to
// the domestic feed, the gold spot market to the gold feed and recognized
// overseas venues to the foreign feed.
func (g *Gateway) router() mux.Router {
	return func(key quote.InstrumentKey) mux.Upstream {
		var name string
		switch {
		case strings.EqualFold(key.Exchange, exchangeKRX):
			name = "domestic"
		case strings.EqualFold(key.Exchange, exchangeGold):
			name = "gold"
		case feed.KnownForeignMarket(key.Exchange):
			name = "foreign"
		default:
			return nil
		}
		c, ok := g.clients[name]
		if !ok {
			return nil
		}
		return c
	}
}

func (g *Gateway) buildCache() cache.Store {
	if g.cfg.Cache.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr: g.cfg.Cache.RedisAddr,
			DB:   g.cfg.Cache.RedisDB,
		})
		g.log.Info("using redis quote cache", zap.String("addr", g.cfg.Cache.RedisAddr))
		return cache.NewRedis(rdb, g.cfg.Cache.TTL, g.log)
	}
	mem := cache.NewMemory(g.cfg.Cache.TTL)
	g.stopSweep = mem.StartSweep(g.cfg.Cache.TTL)
	return mem
}

// Client returns the feed client registered under name, or nil. Exposed for
// operator surfaces such as circuit-breaker resets.
func (g *Gateway) Client(name string) *feed.Client {
	return g.clients[name]
}

// Shutdown stops the pipeline: downstream server first, then broadcast,
// upstream clients and storage.
func (g *Gateway) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := g.httpSrv.Shutdown(shutdownCtx); err != nil {
		g.log.Warn("downstream server shutdown", zap.Error(err))
	}

	g.scheduler.Stop()
	for name, c := range g.clients {
		c.Close()
		g.log.Info("feed client closed", zap.String("feed", name))
	}
	if g.stopSweep != nil {
		g.stopSweep()
	}
	if g.refCancel != nil {
		g.refCancel()
	}
	if g.pg != nil {
		if err := g.pg.Close(); err != nil {
			g.log.Warn("postgres close", zap.Error(err))
		}
	}
}
