package feed

import "quotegate/internal/quote"

// Layout selects how a raw data frame is cut into a positional field array.
type Layout int

const (
	// LayoutKIS frames look like "flag|feed-id|count|f1^f2^...^fN"; the field
	// array is the caret-split payload.
	LayoutKIS Layout = iota
	// LayoutKiwoom frames look like "feed-id|product|f1|f2|..."; the field
	// array is the full pipe split (indices therefore include the leading
	// feed-id and product code).
	LayoutKiwoom
)

const none = -1

// LevelIdx points at the price/quantity pair of one depth level.
type LevelIdx struct {
	Price int
	Qty   int
}

// FieldMap fixes, per feed-id, which positional index carries which field.
// Any index may be beyond the actual field count of a given frame; provider
// versions are known to vary, so lookups are bounds-safe and resolve to "0"
// (numeric) or "" (text). An index of none means the feed never carries the
// field. Price == none on a quote-only map makes the parser synthesize the
// mid-price from the best bid/ask.
type FieldMap struct {
	Kind   quote.Kind
	Symbol int
	Time   int
	Price  int
	Change int
	Rate   int
	Open   int
	High   int
	Low    int
	Volume int
	Bids   []LevelIdx
	Asks   []LevelIdx
}

// depthRange builds n consecutive (price, qty) index pairs laid out as
// p1,q1,p2,q2,... starting at first.
func depthRange(first, n int) []LevelIdx {
	out := make([]LevelIdx, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, LevelIdx{Price: first + 2*i, Qty: first + 2*i + 1})
	}
	return out
}

// splitRange builds n (price, qty) pairs where the n prices are consecutive
// from priceFirst and the n quantities consecutive from qtyFirst, the layout
// used by the domestic order-book frame.
func splitRange(priceFirst, qtyFirst, n int) []LevelIdx {
	out := make([]LevelIdx, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, LevelIdx{Price: priceFirst + i, Qty: qtyFirst + i})
	}
	return out
}

// ForeignMaps covers the KIS overseas-equity feeds. US quote frames carry one
// level (HDFSASP0), Asia paid frames the same shape (HDFSASP1), executions
// come on HDFSCNT0.
func ForeignMaps() map[string]FieldMap {
	quoteMap := FieldMap{
		Kind:   quote.KindQuote,
		Symbol: 1,
		Time:   6, // KHMS, Korean local execution time
		Price:  none,
		Change: none, Rate: none,
		Open: none, High: none, Low: none,
		Volume: none,
		Bids:   []LevelIdx{{Price: 11, Qty: 13}},
		Asks:   []LevelIdx{{Price: 12, Qty: 14}},
	}
	return map[string]FieldMap{
		"HDFSASP0": quoteMap,
		"HDFSASP1": quoteMap,
		"HDFSCNT0": {
			Kind:   quote.KindTrade,
			Symbol: 1,
			Time:   7,  // KHMS
			Price:  11, // LAST
			Change: none,
			Rate:   14, // RATE
			Open:   none, High: none, Low: none,
			Volume: 20, // TVOL
			Bids:   []LevelIdx{{Price: 15, Qty: none}},
			Asks:   []LevelIdx{{Price: 16, Qty: none}},
		},
	}
}

// DomesticMaps covers the KIS domestic feeds. H0UN* frames (NXT-integrated
// symbols) share the layout of their H0ST* counterparts.
func DomesticMaps() map[string]FieldMap {
	tradeMap := FieldMap{
		Kind:   quote.KindTrade,
		Symbol: 0,
		Time:   1,
		Price:  2,
		Change: 4,
		Rate:   5,
		Open:   7,
		High:   8,
		Low:    9,
		Volume: 13, // ACML_VOL
		Bids:   []LevelIdx{{Price: 11, Qty: none}},
		Asks:   []LevelIdx{{Price: 10, Qty: none}},
	}
	quoteMap := FieldMap{
		Kind:   quote.KindQuote,
		Symbol: 0,
		Time:   1,
		Price:  none,
		Change: none, Rate: none,
		Open: none, High: none, Low: none,
		Volume: none,
		Asks:   splitRange(3, 23, 10),
		Bids:   splitRange(13, 33, 10),
	}
	return map[string]FieldMap{
		"H0STCNT0": tradeMap,
		"H0UNCNT0": tradeMap,
		"H0STASP0": quoteMap,
		"H0UNASP0": quoteMap,
	}
}

// GoldMaps covers the Kiwoom spot-metal feed: type 00 executions and type 01
// ten-level books. Indices are into the full pipe split (LayoutKiwoom).
func GoldMaps() map[string]FieldMap {
	return map[string]FieldMap{
		"00": {
			Kind:   quote.KindTrade,
			Symbol: 1,
			Time:   7,
			Price:  2,
			Change: 4,
			Rate:   5,
			Open:   none, High: none, Low: none,
			Volume: 6,
			Bids:   nil,
			Asks:   nil,
		},
		"01": {
			Kind:   quote.KindQuote,
			Symbol: 1,
			Time:   42,
			Price:  none,
			Change: none, Rate: none,
			Open: none, High: none, Low: none,
			Volume: none,
			Bids:   depthRange(2, 10),
			Asks:   depthRange(22, 10),
		},
	}
}
