package refdata

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quotegate/pkg/storage/postgres"
)

// Loader refreshes the in-memory instrument master from Postgres: once at
// startup and then daily at UTC midnight, when the overnight batch has
// rewritten the master table.
type Loader struct {
	Client *postgres.PostgresClient
	Store  *Store
	Logger *zap.Logger
}

// LoadOnce pulls the full instrument master into the store.
func (l *Loader) LoadOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	records, err := l.Client.ListInstruments(ctx)
	if err != nil {
		l.Logger.Error("failed to load instrument master", zap.Error(err))
		return err
	}

	instruments := make([]Instrument, 0, len(records))
	for _, rec := range records {
		instruments = append(instruments, Instrument{
			Exchange:     rec.Exchange,
			Symbol:       rec.Symbol,
			Name:         rec.Name,
			NXTSupported: rec.NXTSupported,
		})
	}
	l.Store.Replace(instruments)
	l.Logger.Info("instrument master loaded", zap.Int("count", len(instruments)))
	return nil
}

// Start runs the refresh once immediately and then once every 24 hours,
// aligned to UTC midnight.
func (l *Loader) Start(ctx context.Context) {
	go func() {
		if err := l.LoadOnce(ctx); err != nil {
			l.Logger.Warn("initial instrument load failed, serving empty master")
		}

		// Wait until next UTC midnight
		now := time.Now().UTC()
		nextMidnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		select {
		case <-time.After(time.Until(nextMidnight)):
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := l.LoadOnce(ctx); err != nil {
				l.Logger.Warn("scheduled instrument refresh failed")
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}
