package app

import (
	"context"
	"time"

	"tradesentry/internal/engine"
	"tradesentry/internal/logger"
)

const stopMonitorInterval = 5 * time.Second

// runStopMonitor periodically checks the protective stop of the open trade.
// A filled stop settles the trade; a dead stop over an open position forces
// an immediate exit inside the engine. With no open trade the tick is a
// no-op.
func (a *App) runStopMonitor(ctx context.Context) error {
	ticker := time.NewTicker(stopMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		res := a.engine.MonitorProtectiveStop(ctx)
		switch res.State {
		case engine.OutcomeStopFilled, engine.OutcomeStopInvalidatedExited:
			logger.Infof("stop monitor settled trade: %s pnl=%.2f", res.State, res.PnL)
		case engine.OutcomeEmergencyLockdown:
			logger.Criticalf("stop monitor triggered lockdown: %s", res.ErrText)
		}
	}
}
