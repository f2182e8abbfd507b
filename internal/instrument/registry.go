// Package instrument holds the tradeable-instrument table: tick size, lot
// size and exchange routing per symbol. The table is loaded from YAML and
// hot-reloaded when the file changes, so tick-size corrections do not need
// a restart mid-session.
package instrument

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradesentry/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Instrument describes one tradeable symbol.
type Instrument struct {
	Symbol   string  `yaml:"symbol"`
	Exchange string  `yaml:"exchange"`
	TickSize float64 `yaml:"tick_size"`
	LotSize  int     `yaml:"lot_size"`
}

type fileConfig struct {
	Instruments []Instrument `yaml:"instruments"`
}

// Registry serves instrument lookups and watches the backing file.
type Registry struct {
	path string

	mu       sync.RWMutex
	bySymbol map[string]Instrument
	loadedAt time.Time

	watcher *fsnotify.Watcher
}

// NewRegistry loads the table and starts watching the file for updates.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("instrument registry requires a path")
	}
	r := &Registry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("instrument watcher failed: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s failed: %w", path, err)
	}
	r.watcher = watcher
	go r.watchLoop()
	return r, nil
}

func (r *Registry) watchLoop() {
	base := filepath.Base(r.path)
	for {
		select {
		case evt, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != base {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				logger.Errorf("instrument reload failed: %v", err)
				continue
			}
			logger.Infof("instrument table reloaded from %s", r.path)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("instrument watcher error: %v", err)
		}
	}
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("reading instrument table failed: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parsing instrument table failed: %w", err)
	}
	table := make(map[string]Instrument, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		sym := strings.ToUpper(strings.TrimSpace(inst.Symbol))
		if sym == "" {
			continue
		}
		if inst.TickSize <= 0 {
			return fmt.Errorf("instrument %s has invalid tick_size %v", sym, inst.TickSize)
		}
		if inst.LotSize <= 0 {
			inst.LotSize = 1
		}
		inst.Symbol = sym
		table[sym] = inst
	}
	r.mu.Lock()
	r.bySymbol = table
	r.loadedAt = time.Now()
	r.mu.Unlock()
	return nil
}

// Close stops the file watcher.
func (r *Registry) Close() error {
	if r == nil || r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}

// Lookup returns the instrument for a symbol.
func (r *Registry) Lookup(symbol string) (Instrument, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return inst, ok
}

// TickSize returns the symbol's tick size, falling back to the equity
// default of 0.05 when the symbol is not in the table.
func (r *Registry) TickSize(symbol string) float64 {
	if inst, ok := r.Lookup(symbol); ok {
		return inst.TickSize
	}
	return 0.05
}

// RoundToTick rounds price to the nearest multiple of the symbol's tick
// size. Exact decimal arithmetic avoids the float drift that would
// otherwise produce prices the broker rejects.
func (r *Registry) RoundToTick(symbol string, price float64) float64 {
	return roundToTick(price, r.TickSize(symbol))
}

func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	steps := p.Div(t).Round(0)
	out, _ := steps.Mul(t).Float64()
	return out
}

// OffsetTicks shifts price by n ticks (negative n shifts down) and returns
// a tick-aligned result.
func (r *Registry) OffsetTicks(symbol string, price float64, n int) float64 {
	tick := r.TickSize(symbol)
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	out, _ := p.Add(t.Mul(decimal.NewFromInt(int64(n)))).Float64()
	return roundToTick(out, tick)
}
