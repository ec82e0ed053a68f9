package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"trailing_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RecordRow is the persisted form of a domain.Record.
// Amounts are stored as decimal strings to keep full precision.
type RecordRow struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	Seq              uint64    `gorm:"uniqueIndex" json:"seq"`
	Kind             string    `gorm:"index" json:"kind"`
	OrderID          uint64    `gorm:"index" json:"order_id"`
	Market           string    `gorm:"index" json:"market"`
	Position         string    `json:"position"`
	Account          string    `gorm:"index" json:"account"`
	Direction        string    `json:"direction"`
	Status           string    `json:"status"`
	Tick             int32     `json:"tick"`
	TrailingDistance int32     `json:"trailing_distance"`
	Amount           string    `json:"amount"`
	Output           string    `json:"output"`
	At               time.Time `json:"at"`
	CreatedAt        time.Time `json:"created_at"`
}

// RecordStore is the append-only SQLite journal of committed engine records.
// It implements domain.RecordSink.
type RecordStore struct {
	mu      sync.Mutex
	db      *gorm.DB
	lastSeq uint64
}

// NewRecordStore opens (or creates) the SQLite database at dbPath.
func NewRecordStore(dbPath string) (*RecordStore, error) {
	// Ensure directory exists
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return newRecordStore(db)
}

func newRecordStore(db *gorm.DB) (*RecordStore, error) {
	// Auto Migration
	if err := db.AutoMigrate(&RecordRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	var last uint64
	if err := db.Model(&RecordRow{}).Select("COALESCE(MAX(seq), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("failed to read last record seq: %w", err)
	}

	return &RecordStore{db: db, lastSeq: last}, nil
}

// Publish appends records in one transaction, preserving their order.
func (s *RecordStore) Publish(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := lo.Map(records, func(r domain.Record, i int) RecordRow {
		return toRow(r, s.lastSeq+uint64(i)+1)
	})

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}

	s.lastSeq += uint64(len(rows))
	return nil
}

// ByOrder returns every record of an order in commit order.
func (s *RecordStore) ByOrder(ctx context.Context, market domain.MarketID, orderID uint64) ([]domain.Record, error) {
	var rows []RecordRow
	err := s.db.WithContext(ctx).
		Where("market = ? AND order_id = ?", string(market), orderID).
		Order("seq").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

// ByAccount returns the records tagged with an account in commit order.
func (s *RecordStore) ByAccount(ctx context.Context, account domain.Account) ([]domain.Record, error) {
	var rows []RecordRow
	if err := s.db.WithContext(ctx).Where("account = ?", string(account)).Order("seq").Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromRows(rows)
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RecordRow{}).Count(&n).Error
	return n, err
}

// Close closes the underlying connection pool.
func (s *RecordStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(r domain.Record, seq uint64) RecordRow {
	row := RecordRow{
		ID:               uuid.NewString(),
		Seq:              seq,
		Kind:             string(r.Kind),
		OrderID:          r.OrderID,
		Market:           string(r.Market),
		Position:         r.Position.String(),
		Account:          string(r.Account),
		Tick:             r.Tick,
		TrailingDistance: r.TrailingDistance,
		Amount:           r.Amount.String(),
		Output:           r.Output.String(),
		At:               r.At,
	}
	if r.Direction.Valid() {
		row.Direction = r.Direction.String()
	}
	if r.Status != 0 {
		row.Status = r.Status.String()
	}
	return row
}

func fromRows(rows []RecordRow) ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		r, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", row.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func fromRow(row RecordRow) (domain.Record, error) {
	r := domain.Record{
		Kind:             domain.RecordKind(row.Kind),
		OrderID:          row.OrderID,
		Market:           domain.MarketID(row.Market),
		Account:          domain.Account(row.Account),
		Tick:             row.Tick,
		TrailingDistance: row.TrailingDistance,
		At:               row.At,
	}
	if err := r.Position.UnmarshalText([]byte(row.Position)); err != nil {
		return r, err
	}
	if row.Direction != "" {
		if err := r.Direction.UnmarshalText([]byte(row.Direction)); err != nil {
			return r, err
		}
	}
	if row.Status != "" {
		if err := r.Status.UnmarshalText([]byte(row.Status)); err != nil {
			return r, err
		}
	}

	var err error
	if r.Amount, err = decimal.NewFromString(row.Amount); err != nil {
		return r, err
	}
	if r.Output, err = decimal.NewFromString(row.Output); err != nil {
		return r, err
	}
	return r, nil
}
