package refdata

import "testing"

// go test -v --run TestStoreReplaceAndLookup
func TestStoreReplaceAndLookup(t *testing.T) {
	s := NewStore()
	if s.Len() != 0 {
		t.Fatalf("fresh store len = %d, want 0", s.Len())
	}

	s.Replace([]Instrument{
		{Exchange: "KRX", Symbol: "005930", Name: "Samsung Electronics", NXTSupported: true},
		{Exchange: "KRX", Symbol: "000660", Name: "SK hynix"},
	})
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}

	inst, ok := s.Lookup("krx", "005930")
	if !ok || inst.Name != "Samsung Electronics" {
		t.Errorf("lookup = %+v ok=%v, want Samsung Electronics (case-insensitive)", inst, ok)
	}
	if _, ok := s.Lookup("KRX", "999999"); ok {
		t.Error("lookup of unknown symbol should miss")
	}

	if !s.NXTSupported("005930") {
		t.Error("005930 should be NXT supported")
	}
	if s.NXTSupported("000660") {
		t.Error("000660 should not be NXT supported")
	}
	if s.NXTSupported("999999") {
		t.Error("unknown symbol should not be NXT supported")
	}

	// a replace drops everything not in the new snapshot
	s.Replace([]Instrument{{Exchange: "KRX", Symbol: "000660"}})
	if s.Len() != 1 {
		t.Errorf("len after replace = %d, want 1", s.Len())
	}
	if s.NXTSupported("005930") {
		t.Error("stale entry survived the replace")
	}
}
