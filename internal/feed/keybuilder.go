package feed

import (
	"strings"

	"quotegate/internal/quote"
)

// foreignMarket normalizes a market and records its subscription-key prefix.
// Prefix D selects the free US night-session tier, R the paid real-time tier
// used for US day-session and Asian markets.
type foreignMarket struct {
	code   string
	prefix string
	us     bool
}

// foreignMarkets maps exchange codes and their common aliases.
var foreignMarkets = map[string]foreignMarket{
	"NYS": {"NYS", "D", true}, "NYSE": {"NYS", "D", true},
	"NAS": {"NAS", "D", true}, "NASD": {"NAS", "D", true},
	"AMS": {"AMS", "D", true}, "AMEX": {"AMS", "D", true},
	"HKS": {"HKS", "R", false}, "SEHK": {"HKS", "R", false},
	"TSE": {"TSE", "R", false}, "TKSE": {"TSE", "R", false},
	"SHS": {"SHS", "R", false},
	"SZS": {"SZS", "R", false},
	"HSX": {"HSX", "R", false},
	"HNX": {"HNX", "R", false},
}

// KnownForeignMarket reports whether exchange is a recognized overseas venue
// or one of its aliases.
func KnownForeignMarket(exchange string) bool {
	_, ok := foreignMarkets[strings.ToUpper(exchange)]
	return ok
}

func lookupForeignMarket(exchange string) foreignMarket {
	if m, ok := foreignMarkets[strings.ToUpper(exchange)]; ok {
		return m
	}
	// unknown venues default to the free-tier prefix
	return foreignMarket{code: strings.ToUpper(exchange), prefix: "D", us: true}
}

// buildForeignTRKey assembles prefix + market code + symbol,
// e.g. DNASAAPL or RHKS00003.
func buildForeignTRKey(key quote.InstrumentKey) string {
	m := lookupForeignMarket(key.Exchange)
	return m.prefix + m.code + strings.ToUpper(key.Symbol)
}

// ForeignResolver selects the overseas feed-ids: HDFSCNT0 for executions,
// HDFSASP0 for US books and HDFSASP1 for the Asian paid tier.
func ForeignResolver() Resolver {
	return func(key quote.InstrumentKey) (string, string) {
		trKey := buildForeignTRKey(key)
		if key.Kind == quote.KindTrade {
			return "HDFSCNT0", trKey
		}
		if lookupForeignMarket(key.Exchange).us {
			return "HDFSASP0", trKey
		}
		return "HDFSASP1", trKey
	}
}

// DomesticResolver selects H0UN* feed-ids for symbols that also trade on the
// NXT venue (integrated tape) and H0ST* for KRX-only symbols. The tr_key is
// the bare 6-digit symbol.
func DomesticResolver(nxtSupported func(symbol string) bool) Resolver {
	return func(key quote.InstrumentKey) (string, string) {
		nxt := nxtSupported != nil && nxtSupported(key.Symbol)
		if key.Kind == quote.KindTrade {
			if nxt {
				return "H0UNCNT0", key.Symbol
			}
			return "H0STCNT0", key.Symbol
		}
		if nxt {
			return "H0UNASP0", key.Symbol
		}
		return "H0STASP0", key.Symbol
	}
}
