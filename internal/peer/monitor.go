// ABOUTME: Liveness monitor that pings registered peers and evicts stale ones.
// ABOUTME: Heartbeat threshold is 2x the ping cadence to tolerate one lost round-trip.

package peer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor drives the liveness protocol over a Registry: on every interval
// tick it evicts connections whose last heartbeat is older than the timeout
// and pings the rest. Pongs refresh heartbeats via Registry.Heartbeat.
type Monitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a Monitor. interval is the ping cadence, timeout the
// eviction threshold; timeout should be a small multiple of interval so one
// missed round-trip does not cause a false eviction.
func NewMonitor(registry *Registry, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "liveness"),
	}
}

// Run pings and evicts until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(time.Now())
		}
	}
}

// Sweep performs one liveness pass. Each record is handled in its own
// goroutine so one stalled transport write cannot delay pings or evictions
// of unrelated peers. Exported so tests can drive ticks directly with a
// synthetic clock.
func (m *Monitor) Sweep(now time.Time) {
	var wg sync.WaitGroup
	for _, rec := range m.registry.Snapshot() {
		wg.Add(1)
		go func(rec Record) {
			defer wg.Done()

			if now.Sub(rec.LastHeartbeat) > m.timeout {
				m.logger.Warn("evicting stale peer",
					"peer", rec.Identity,
					"last_heartbeat", rec.LastHeartbeat,
				)
				if err := rec.Conn.Close(CloseHeartbeatTimeout, "heartbeat timeout"); err != nil {
					m.logger.Debug("closing stale connection", "peer", rec.Identity, "error", err)
				}
				m.registry.RemoveConn(rec.Identity, rec.Conn)
				return
			}

			if err := rec.Conn.Ping(); err != nil {
				m.logger.Warn("ping failed", "peer", rec.Identity, "error", err)
			}
		}(rec)
	}
	wg.Wait()
}
