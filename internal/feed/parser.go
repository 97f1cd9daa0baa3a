package feed

import (
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"quotegate/internal/quote"
)

var (
	// ErrUnknownFeedID marks frames whose feed-id has no field map. The frame
	// is dropped, the connection stays up.
	ErrUnknownFeedID = errors.New("unknown feed id")
	// ErrMalformedFrame marks frames that do not match either the control or
	// the data shape. Dropped, never fatal.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrEncryptedFrame marks KIS frames flagged as encrypted; encryption is
	// not negotiated, so these cannot be decoded.
	ErrEncryptedFrame = errors.New("encrypted frame not supported")
)

// Frame is one decoded upstream message. Control frames carry only the raw
// payload and are routed to the connection supervisor; data frames carry a
// record plus the bare symbol (exchange context is added by the caller).
type Frame struct {
	Control bool
	Raw     string
	FeedID  string
	Kind    quote.Kind
	Symbol  string
	Record  *quote.Record
}

// Parser is a stateless decoder for one feed's wire format.
type Parser struct {
	layout Layout
	maps   map[string]FieldMap
	log    *zap.Logger
}

func NewParser(layout Layout, maps map[string]FieldMap, log *zap.Logger) *Parser {
	return &Parser{layout: layout, maps: maps, log: log}
}

// Parse decodes a single raw text frame. Frames starting with '{' are control
// messages; everything containing '|' is record data. Per-field parse
// failures never propagate: numeric text that does not parse becomes a nil
// field, missing trailing indices resolve to defaults.
func (p *Parser) Parse(raw string) (*Frame, error) {
	if strings.HasPrefix(raw, "{") {
		return &Frame{Control: true, Raw: raw}, nil
	}
	if !strings.Contains(raw, "|") {
		return nil, ErrMalformedFrame
	}

	parts := strings.Split(raw, "|")
	var feedID string
	var fields []string

	switch p.layout {
	case LayoutKIS:
		if len(parts) < 4 {
			return nil, ErrMalformedFrame
		}
		if parts[0] == "1" {
			return nil, ErrEncryptedFrame
		}
		feedID = parts[1]
		fields = strings.Split(parts[3], "^")
	case LayoutKiwoom:
		if len(parts) < 2 {
			return nil, ErrMalformedFrame
		}
		feedID = parts[0]
		fields = parts
	}

	fm, ok := p.maps[feedID]
	if !ok {
		p.log.Warn("dropping frame with unknown feed id", zap.String("feed_id", feedID))
		return nil, ErrUnknownFeedID
	}

	rec := p.decode(fm, fields)
	return &Frame{
		Raw:    raw,
		FeedID: feedID,
		Kind:   fm.Kind,
		Symbol: rec.Symbol,
		Record: rec,
	}, nil
}

func (p *Parser) decode(fm FieldMap, fields []string) *quote.Record {
	rec := &quote.Record{
		Symbol:     textAt(fields, fm.Symbol),
		Time:       textAt(fields, fm.Time),
		Change:     p.floatAt(fields, fm.Change),
		ChangeRate: p.floatAt(fields, fm.Rate),
		Open:       p.floatAt(fields, fm.Open),
		High:       p.floatAt(fields, fm.High),
		Low:        p.floatAt(fields, fm.Low),
		Volume:     p.intAt(fields, fm.Volume),
	}

	for _, idx := range fm.Bids {
		rec.Bids = append(rec.Bids, quote.Level{
			Price: p.floatAt(fields, idx.Price),
			Qty:   p.intAt(fields, idx.Qty),
		})
	}
	for _, idx := range fm.Asks {
		rec.Asks = append(rec.Asks, quote.Level{
			Price: p.floatAt(fields, idx.Price),
			Qty:   p.intAt(fields, idx.Qty),
		})
	}

	if fm.Price != none {
		rec.Price = numAt(fields, fm.Price)
	} else if len(fm.Bids) > 0 && len(fm.Asks) > 0 {
		rec.Price = MidPrice(numAt(fields, fm.Bids[0].Price), numAt(fields, fm.Asks[0].Price))
	}
	return rec
}

// MidPrice estimates the last price of a quote-only feed as the average of
// best bid and ask, rounded to four decimals. When either side fails to parse
// the raw bid text is returned unchanged; callers downstream have depended on
// that behavior, so it is kept as-is.
func MidPrice(bid, ask string) string {
	b, errB := strconv.ParseFloat(bid, 64)
	a, errA := strconv.ParseFloat(ask, 64)
	if errB != nil || errA != nil {
		return bid
	}
	return strconv.FormatFloat((b+a)/2, 'f', 4, 64)
}

// textAt returns the field at i or "" when the frame is too short.
func textAt(fields []string, i int) string {
	if i == none || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

// numAt is textAt with the numeric default "0".
func numAt(fields []string, i int) string {
	if i == none || i >= len(fields) || strings.TrimSpace(fields[i]) == "" {
		return "0"
	}
	return strings.TrimSpace(fields[i])
}

func (p *Parser) floatAt(fields []string, i int) *float64 {
	s := textAt(fields, i)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.log.Warn("non-numeric field", zap.Int("index", i), zap.String("value", s))
		return nil
	}
	return &v
}

func (p *Parser) intAt(fields []string, i int) *int64 {
	s := textAt(fields, i)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		p.log.Warn("non-numeric field", zap.Int("index", i), zap.String("value", s))
		return nil
	}
	return &v
}
