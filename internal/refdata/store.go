// Package refdata keeps the instrument master in memory: the slow-changing
// reference data used to validate downstream subscribe requests and to pick
// feed-ids for NXT-integrated domestic symbols.
package refdata

import (
	"strings"
	"sync"
)

// Instrument is one tradable symbol on one venue.
type Instrument struct {
	Exchange     string
	Symbol       string
	Name         string
	NXTSupported bool
}

type instrumentKey struct {
	exchange string
	symbol   string
}

// Store is a read-mostly snapshot table; Replace swaps the whole snapshot
// atomically, lookups take a shared lock.
type Store struct {
	mu       sync.RWMutex
	byKey    map[instrumentKey]Instrument
	bySymbol map[string]Instrument
}

func NewStore() *Store {
	return &Store{
		byKey:    make(map[instrumentKey]Instrument),
		bySymbol: make(map[string]Instrument),
	}
}

// Replace installs a full refresh of the instrument master.
func (s *Store) Replace(instruments []Instrument) {
	byKey := make(map[instrumentKey]Instrument, len(instruments))
	bySymbol := make(map[string]Instrument, len(instruments))
	for _, inst := range instruments {
		byKey[keyOf(inst.Exchange, inst.Symbol)] = inst
		bySymbol[strings.ToUpper(inst.Symbol)] = inst
	}

	s.mu.Lock()
	s.byKey = byKey
	s.bySymbol = bySymbol
	s.mu.Unlock()
}

// Lookup finds an instrument by venue and symbol.
func (s *Store) Lookup(exchange, symbol string) (Instrument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.byKey[keyOf(exchange, symbol)]
	return inst, ok
}

// NXTSupported reports whether a domestic symbol also trades on the NXT
// venue, which switches its feed-ids to the integrated-tape variants.
func (s *Store) NXTSupported(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.bySymbol[strings.ToUpper(symbol)]
	return ok && inst.NXTSupported
}

// Len reports the snapshot size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

func keyOf(exchange, symbol string) instrumentKey {
	return instrumentKey{
		exchange: strings.ToUpper(exchange),
		symbol:   strings.ToUpper(symbol),
	}
}
