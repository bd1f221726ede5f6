package mswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config bundles all the tunables the Switcher needs to open its sources
// and run its workers.
type Config struct {
	QueueCapacity           int
	AutoFailoverEnabled     bool
	HealthCheckInterval     time.Duration
	SourceTimeout           time.Duration
	StartupGracePeriod      time.Duration
	ManualSwitchGrace       time.Duration
	SwitchTimeout           time.Duration
	TimestampDriftThreshold int64
}

// Dialer opens a Demuxer for one source URL. A concrete implementation
// lives in the mswitchdemux package.
type Dialer func(ctx context.Context, url string) (Demuxer, error)

// Switcher owns the full set of sources, the shared arbitration state, and
// the background workers (readers + health monitor). It is the entry
// point a host process opens once per program.
type Switcher struct {
	sources    []*Source
	state      *state
	arbiter    *Arbiter
	normaliser *Normaliser
	monitor    *HealthMonitor
	cfg        Config
	log        *slog.Logger

	readerCancel context.CancelFunc
	group        *errgroup.Group
}

// Open parses the source list, dials one Demuxer per URL (the last URL is
// the reserved black-filler source), allocates per-source queues, and
// spawns one reader goroutine per source plus the health monitor.
func Open(ctx context.Context, urls []string, dial Dialer, cfg Config, logger *slog.Logger) (*Switcher, error) {
	if len(urls) < 1 {
		return nil, fmt.Errorf("mswitch: at least one source url is required")
	}

	readerCtx, cancel := context.WithCancel(ctx)

	sources := make([]*Source, len(urls))
	for i, url := range urls {
		demux, err := dial(readerCtx, url)
		if err != nil {
			cancel()
			for j := 0; j < i; j++ {
				_ = sources[j].demux.Close()
			}
			return nil, fmt.Errorf("opening source %d (%s): %w", i, url, err)
		}
		sources[i] = NewSource(i, url, demux, cfg.QueueCapacity, logger)
	}

	st := newState(len(sources), len(sources)-1, time.Now())

	arbiterCfg := ArbiterConfig{
		AutoFailoverEnabled: cfg.AutoFailoverEnabled,
		SwitchTimeout:       cfg.SwitchTimeout,
		ManualSwitchGrace:   cfg.ManualSwitchGrace,
	}
	monitorCfg := HealthMonitorConfig{
		Enabled:            cfg.AutoFailoverEnabled,
		CheckInterval:      cfg.HealthCheckInterval,
		SourceTimeout:      cfg.SourceTimeout,
		StartupGracePeriod: cfg.StartupGracePeriod,
		ManualSwitchGrace:  cfg.ManualSwitchGrace,
	}

	sw := &Switcher{
		sources:      sources,
		state:        st,
		arbiter:      NewArbiter(sources, st, arbiterCfg, logger.With(slog.String("component", "arbiter"))),
		normaliser:   NewNormaliser(len(sources), cfg.TimestampDriftThreshold),
		monitor:      NewHealthMonitor(sources, st, monitorCfg, logger.With(slog.String("component", "health_monitor"))),
		cfg:          cfg,
		log:          logger,
		readerCancel: cancel,
	}

	g := &errgroup.Group{}
	sw.group = g

	for _, src := range sources {
		src := src
		g.Go(func() error {
			src.Run(readerCtx)
			return nil
		})
	}

	g.Go(func() error {
		sw.monitor.Run(readerCtx)
		return nil
	})

	return sw, nil
}

// Next blocks until a packet is ready to hand downstream, retrying
// internally on ErrTryAgain. It returns ErrAllSourcesDone once every
// source has reached terminal end of stream (or, with auto-failover
// disabled, once the active source has), or ctx.Err() if ctx is cancelled
// first.
func (sw *Switcher) Next(ctx context.Context) (Packet, error) {
	for {
		select {
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		default:
		}

		pkt, idx, finalized, err := sw.arbiter.Next(time.Now)
		if err != nil {
			if errors.Is(err, ErrTryAgain) {
				continue
			}
			return Packet{}, err
		}

		// Only an Arbiter-finalized switch (keyframe/timeout/forced) forces
		// the Normaliser to re-anchor the new source onto the output
		// timeline on its first packet. A manual switch changes the
		// active index without going through that handshake, so it instead
		// relies on Apply's own drift-threshold recompute to reanchor onto
		// the new source's timeline.
		if finalized {
			sw.normaliser.ResetForSwitch(idx)
		}

		return sw.normaliser.Apply(pkt, sw.sources[idx], time.Now()), nil
	}
}

// RequestSwitch performs an immediate, unconditional manual switch to
// source index n, bypassing the keyframe wait. It is the sole entry point
// the control plane uses to mutate active-source state.
func (sw *Switcher) RequestSwitch(n int) error {
	old := sw.state.activeIndex()
	if err := sw.state.requestManualSwitch(n, time.Now()); err != nil {
		return err
	}
	sw.log.Info("manual switch", slog.Int("from", old), slog.Int("to", n))
	return nil
}

// NumSources returns the number of configured sources, including the
// reserved black filler.
func (sw *Switcher) NumSources() int {
	return len(sw.sources)
}

// ActiveSource returns the currently active source index.
func (sw *Switcher) ActiveSource() int {
	return sw.state.activeIndex()
}

// SourceStatus is the per-source detail reported alongside the required
// active/num_sources fields.
type SourceStatus struct {
	Index             int    `json:"index"`
	URL               string `json:"url"`
	Healthy           bool   `json:"healthy"`
	Active            bool   `json:"active"`
	QueueDepth        int    `json:"queue_depth"`
	PacketsRead       uint64 `json:"packets_read"`
	MsSinceLastPacket int64  `json:"ms_since_last_packet"`
}

// Status reports the active source index, source count, and a per-source
// breakdown of health and liveness counters.
type Status struct {
	ActiveSource int            `json:"active_source"`
	NumSources   int            `json:"num_sources"`
	Sources      []SourceStatus `json:"sources"`
}

// Status builds a snapshot suitable for the control plane's GET /status.
func (sw *Switcher) Status() Status {
	active := sw.state.activeIndex()
	now := time.Now()

	sources := make([]SourceStatus, len(sw.sources))
	for i, src := range sw.sources {
		msSince := int64(-1)
		if last := src.LastPacketTime(); !last.IsZero() {
			msSince = now.Sub(last).Milliseconds()
		}
		sources[i] = SourceStatus{
			Index:             i,
			URL:               src.URL,
			Healthy:           sw.state.isHealthy(i),
			Active:            i == active,
			QueueDepth:        src.Queue().Len(),
			PacketsRead:       src.PacketsRead(),
			MsSinceLastPacket: msSince,
		}
	}

	return Status{
		ActiveSource: active,
		NumSources:   len(sw.sources),
		Sources:      sources,
	}
}

// Close sets every queue EOF, cancels the reader/monitor goroutines, joins
// them, and closes every source's demuxer. It is safe to call Close while
// a concurrent Next is blocked: each queue's EOF flag wakes it.
func (sw *Switcher) Close() error {
	sw.readerCancel()
	for _, src := range sw.sources {
		src.Queue().SetEOF()
	}
	_ = sw.group.Wait()

	var firstErr error
	for _, src := range sw.sources {
		if err := src.demux.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
