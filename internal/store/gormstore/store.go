// Package gormstore persists settled trades using Gorm + SQLite. The trade
// ledger is append-only: records are written once after an invariant-checked
// exit and never updated or deleted.
package gormstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SettledTrade is one fully-resolved, closed trade.
type SettledTrade struct {
	TradeID        string         `gorm:"column:trade_id;uniqueIndex" json:"trade_id"`
	Symbol         string         `gorm:"column:symbol" json:"symbol"`
	Exchange       string         `gorm:"column:exchange" json:"exchange"`
	Side           string         `gorm:"column:side" json:"side"`
	Qty            int            `gorm:"column:qty" json:"qty"`
	EntryPrice     float64        `gorm:"column:entry_price" json:"entry_price"`
	EntryTime      time.Time      `gorm:"column:entry_time" json:"entry_time"`
	ExitPrice      float64        `gorm:"column:exit_price" json:"exit_price"`
	ExitTime       time.Time      `gorm:"column:exit_time" json:"exit_time"`
	PnL            float64        `gorm:"column:pnl" json:"pnl"`
	RiskAdjPnL     float64        `gorm:"column:risk_adj_pnl" json:"risk_adj_pnl"`
	ExitReason     string         `gorm:"column:exit_reason" json:"exit_reason"`
	Metadata       datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	ID             int64          `gorm:"column:id;primaryKey" json:"-"`
	CreatedAtUnix  int64          `gorm:"column:created_at" json:"-"`
}

func (SettledTrade) TableName() string { return "settled_trades" }

// Store implements the trade history ledger.
type Store struct {
	db *gorm.DB
}

// New opens (creating if needed) the trade history database.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("trade store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SettledTrade{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for ops-API reads while the engine
	// writes.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendTrade writes one settled trade. Duplicate trade ids are rejected by
// the unique index, which keeps replayed finalizations from double-booking.
func (s *Store) AppendTrade(ctx context.Context, rec SettledTrade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("trade store not initialized")
	}
	if strings.TrimSpace(rec.TradeID) == "" {
		return fmt.Errorf("settled trade requires a trade id")
	}
	rec.CreatedAtUnix = time.Now().Unix()
	return s.db.WithContext(ctx).Create(&rec).Error
}

// ListTrades returns settled trades, newest first, up to limit.
func (s *Store) ListTrades(ctx context.Context, limit int) ([]SettledTrade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("trade store not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	var out []SettledTrade
	err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
