package feed

import (
	"testing"

	"quotegate/internal/quote"
)

// go test -v --run TestForeignResolver
func TestForeignResolver(t *testing.T) {
	resolve := ForeignResolver()

	cases := []struct {
		exchange  string
		symbol    string
		kind      quote.Kind
		wantTRID  string
		wantTRKey string
	}{
		{"NAS", "AAPL", quote.KindTrade, "HDFSCNT0", "DNASAAPL"},
		{"NASD", "AAPL", quote.KindTrade, "HDFSCNT0", "DNASAAPL"}, // alias normalizes
		{"NYS", "BRK", quote.KindQuote, "HDFSASP0", "DNYSBRK"},
		{"HKS", "00003", quote.KindQuote, "HDFSASP1", "RHKS00003"},
		{"SEHK", "00003", quote.KindTrade, "HDFSCNT0", "RHKS00003"},
		{"TSE", "7203", quote.KindQuote, "HDFSASP1", "RTSE7203"},
	}
	for _, tc := range cases {
		trID, trKey := resolve(quote.InstrumentKey{Exchange: tc.exchange, Symbol: tc.symbol, Kind: tc.kind})
		if trID != tc.wantTRID || trKey != tc.wantTRKey {
			t.Errorf("%s/%s/%s: got (%s, %s), want (%s, %s)",
				tc.exchange, tc.symbol, tc.kind, trID, trKey, tc.wantTRID, tc.wantTRKey)
		}
	}
}

// go test -v --run TestDomesticResolver
func TestDomesticResolver(t *testing.T) {
	nxt := map[string]bool{"005930": true}
	resolve := DomesticResolver(func(symbol string) bool { return nxt[symbol] })

	cases := []struct {
		symbol   string
		kind     quote.Kind
		wantTRID string
	}{
		{"005930", quote.KindTrade, "H0UNCNT0"}, // integrated tape
		{"005930", quote.KindQuote, "H0UNASP0"},
		{"000660", quote.KindTrade, "H0STCNT0"}, // KRX only
		{"000660", quote.KindQuote, "H0STASP0"},
	}
	for _, tc := range cases {
		trID, trKey := resolve(quote.InstrumentKey{Exchange: "KRX", Symbol: tc.symbol, Kind: tc.kind})
		if trID != tc.wantTRID {
			t.Errorf("%s/%s: trID = %s, want %s", tc.symbol, tc.kind, trID, tc.wantTRID)
		}
		if trKey != tc.symbol {
			t.Errorf("%s: trKey = %s, want bare symbol", tc.symbol, trKey)
		}
	}
}

// go test -v --run TestKnownForeignMarket
func TestKnownForeignMarket(t *testing.T) {
	if !KnownForeignMarket("nasd") {
		t.Error("alias lookup should be case-insensitive")
	}
	if KnownForeignMarket("KRX") {
		t.Error("KRX is not an overseas venue")
	}
}
