// Package journal is the append-only order-event log: submissions, state
// transitions, reconciliation verdicts and lockdowns, kept for post-incident
// review. Writes are best-effort and must never block or fail the order
// path.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradesentry/internal/logger"
	"tradesentry/internal/order"

	_ "modernc.org/sqlite"
)

// Entry is one journaled event.
type Entry struct {
	ID            int64  `json:"id"`
	TS            int64  `json:"ts"`
	Kind          string `json:"kind"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	BrokerOrderID string `json:"broker_order_id,omitempty"`
	Symbol        string `json:"symbol,omitempty"`
	State         string `json:"state,omitempty"`
	FilledQty     int    `json:"filled_qty,omitempty"`
	AvgFillPrice  float64 `json:"avg_fill_price,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// Journal persists entries to SQLite.
type Journal struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open creates or opens the journal database.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening journal failed: %w", err)
	}
	j := &Journal{db: db, path: path}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS order_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		kind TEXT NOT NULL,
		client_order_id TEXT,
		broker_order_id TEXT,
		symbol TEXT,
		state TEXT,
		filled_qty INTEGER,
		avg_fill_price REAL,
		detail TEXT
	)`)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes one entry. Errors are logged, never returned: the journal
// is diagnostics, not a dependency of the trading path.
func (j *Journal) Append(e Entry) {
	if j == nil || j.db == nil {
		return
	}
	if e.TS == 0 {
		e.TS = time.Now().UnixMilli()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO order_events (ts, kind, client_order_id, broker_order_id, symbol, state, filled_qty, avg_fill_price, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TS, e.Kind, e.ClientOrderID, e.BrokerOrderID, e.Symbol, e.State, e.FilledQty, e.AvgFillPrice, e.Detail,
	)
	if err != nil {
		logger.Warnf("journal append failed kind=%s order=%s err=%v", e.Kind, e.ClientOrderID, err)
	}
}

// RecordOrderEvent implements order.EventSink.
func (j *Journal) RecordOrderEvent(evt order.Event) {
	j.Append(Entry{
		TS:            evt.At.UnixMilli(),
		Kind:          "order_" + evt.Kind,
		ClientOrderID: evt.ClientOrderID,
		BrokerOrderID: evt.BrokerOrderID,
		Symbol:        evt.Symbol,
		State:         string(evt.State),
		FilledQty:     evt.FilledQty,
		AvgFillPrice:  evt.AvgFillPrice,
		Detail:        evt.Detail,
	})
}

// RecordEngineEvent journals a reconciliation-engine level event.
func (j *Journal) RecordEngineEvent(kind, symbol, detail string) {
	j.Append(Entry{Kind: kind, Symbol: symbol, Detail: detail})
}

// Recent returns the latest entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, ts, kind, COALESCE(client_order_id,''), COALESCE(broker_order_id,''),
		        COALESCE(symbol,''), COALESCE(state,''), COALESCE(filled_qty,0),
		        COALESCE(avg_fill_price,0), COALESCE(detail,'')
		 FROM order_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TS, &e.Kind, &e.ClientOrderID, &e.BrokerOrderID,
			&e.Symbol, &e.State, &e.FilledQty, &e.AvgFillPrice, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
