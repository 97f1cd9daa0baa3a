package quote

// Kind identifies which series of a given instrument a record belongs to.
type Kind string

const (
	KindTrade Kind = "trade" // execution / last-price stream
	KindQuote Kind = "quote" // order-book (bid/ask) stream
)

// InstrumentKey identifies one streamable series. It is the cache key and the
// subscription ref-count key, so it must stay comparable.
type InstrumentKey struct {
	Exchange string
	Symbol   string
	Kind     Kind
}

func (k InstrumentKey) String() string {
	return k.Exchange + ":" + k.Symbol + ":" + string(k.Kind)
}

// Level is one depth level of the order book. Pointers distinguish "field not
// present in this frame" from a real zero.
type Level struct {
	Price *float64 `json:"price"`
	Qty   *int64   `json:"qty"`
}

// Record is a decoded quote or trade payload. A record is built once by the
// parser and never mutated; the next frame for the same key supersedes it in
// the cache. Price keeps the provider's raw text because the mid-price
// fallback can hand back an unparsed bid string.
type Record struct {
	Symbol     string   `json:"symbol"`
	Price      string   `json:"currentPrice,omitempty"`
	Change     *float64 `json:"change,omitempty"`
	ChangeRate *float64 `json:"changeRate,omitempty"`
	Open       *float64 `json:"open,omitempty"`
	High       *float64 `json:"high,omitempty"`
	Low        *float64 `json:"low,omitempty"`
	Volume     *int64   `json:"volume,omitempty"`
	Bids       []Level  `json:"bids,omitempty"`
	Asks       []Level  `json:"asks,omitempty"`
	Time       string   `json:"time,omitempty"`
}
