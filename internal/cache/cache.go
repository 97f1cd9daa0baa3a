// Package cache holds the latest decoded record per instrument with a short
// freshness window. A record older than the TTL is treated as absent, which
// is how downstream clients stop seeing updates for quiet instruments.
package cache

import "quotegate/internal/quote"

// Store is the latest-value cache the feed clients write and the broadcast
// scheduler reads. Put never fails from the caller's point of view; adapters
// with fallible backends log and drop.
type Store interface {
	Put(key quote.InstrumentKey, rec *quote.Record)
	Get(key quote.InstrumentKey) (*quote.Record, bool)
	Clear()
}
