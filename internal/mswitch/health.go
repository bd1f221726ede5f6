package mswitch

import (
	"context"
	"log/slog"
	"time"
)

// HealthMonitorConfig tunes source-liveness detection and the automatic
// failover it drives.
type HealthMonitorConfig struct {
	Enabled             bool
	CheckInterval       time.Duration
	SourceTimeout       time.Duration
	StartupGracePeriod  time.Duration
	ManualSwitchGrace   time.Duration
}

// HealthMonitor is the single worker that periodically inspects each
// source's liveness and queue state, maintains a healthy/unhealthy bit per
// source, and proposes failover targets by installing a pending switch.
type HealthMonitor struct {
	sources []*Source
	state   *state
	cfg     HealthMonitorConfig
	log     *slog.Logger
}

// NewHealthMonitor builds a HealthMonitor over sources (last entry is the
// reserved black filler, always reported healthy).
func NewHealthMonitor(sources []*Source, st *state, cfg HealthMonitorConfig, logger *slog.Logger) *HealthMonitor {
	return &HealthMonitor{sources: sources, state: st, cfg: cfg, log: logger}
}

// Run blocks until ctx is cancelled, sweeping source liveness once per
// CheckInterval. It is a no-op when auto-failover is disabled.
func (m *HealthMonitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

func (m *HealthMonitor) blackIndex() int {
	return len(m.sources) - 1
}

func (m *HealthMonitor) sweep(now time.Time) {
	if now.Sub(m.state.startupTime) < m.cfg.StartupGracePeriod {
		return
	}

	black := m.blackIndex()
	active := m.state.activeIndex()

	for i, src := range m.sources {
		healthy := m.isLive(i, src, active, black, now)
		if m.state.setHealthy(i, healthy) {
			m.log.Info("source health transition",
				slog.Int("source_index", i), slog.Bool("healthy", healthy))
		}
	}

	active = m.state.activeIndex()
	if !m.state.isHealthy(active) {
		if target, ok := twoStageFailoverTarget(m.state, active, black); ok {
			if m.state.installPending(target, now, true) {
				m.log.Info("health monitor installed failover",
					slog.Int("from", active), slog.Int("to", target))
			}
		}
	}
}

// isLive implements the per-source liveness rules. The reserved black
// source is always healthy. The active source's health is measured by
// consumption, not mere reception, so a wedged downstream consumer is not
// mistaken for a healthy upstream. An inactive source's health is proven
// by queue non-emptiness, since its consumption time is meaningless.
func (m *HealthMonitor) isLive(index int, src *Source, active, black int, now time.Time) bool {
	if index == black {
		return true
	}

	if index != active {
		return src.Queue().Len() > 0
	}

	manualSwitch := m.state.manualSwitchTime()
	if !manualSwitch.IsZero() && now.Sub(manualSwitch) < m.cfg.ManualSwitchGrace {
		return true
	}

	if src.PacketsRead() == 0 {
		return now.Sub(m.state.startupTime) < m.cfg.StartupGracePeriod+m.cfg.SourceTimeout
	}

	lastConsumption := src.LastConsumptionTime()
	if lastConsumption.IsZero() {
		return true
	}
	return now.Sub(lastConsumption) <= m.cfg.SourceTimeout
}
