package postgres

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// InstrumentRecord is one row of the instrument master: the reference data
// the streaming layer needs to validate subscribe requests and to pick the
// right feed-id for NXT-integrated domestic symbols.
type InstrumentRecord struct {
	ID uint `gorm:"primaryKey"`

	Exchange string `gorm:"type:varchar(10);not null;index:idx_exchange_symbol,unique"`
	Symbol   string `gorm:"type:varchar(20);not null;index:idx_exchange_symbol,unique"`

	Name         string `gorm:"type:text"`
	NXTSupported bool   `gorm:"not null;default:false"`

	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (InstrumentRecord) TableName() string {
	return "instrument_record"
}

// UpsertInstrument inserts or refreshes one instrument row.
func (p *PostgresClient) UpsertInstrument(ctx context.Context, record *InstrumentRecord) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "exchange"},
			{Name: "symbol"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"name", "nxt_supported", "updated_at"}),
	}).Create(record).Error
}

// ListInstruments returns the full instrument master.
func (p *PostgresClient) ListInstruments(ctx context.Context) ([]InstrumentRecord, error) {
	var records []InstrumentRecord
	err := p.DB.WithContext(ctx).
		Order("exchange, symbol").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListInstrumentsByExchange narrows the master to one venue.
func (p *PostgresClient) ListInstrumentsByExchange(ctx context.Context, exchange string) ([]InstrumentRecord, error) {
	var records []InstrumentRecord
	err := p.DB.WithContext(ctx).
		Where("exchange = ?", exchange).
		Order("symbol").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
