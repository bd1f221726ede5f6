package mswitch

import (
	"errors"
	"log/slog"
	"time"
)

// ArbiterConfig tunes the read path's switch-boundary behavior.
type ArbiterConfig struct {
	AutoFailoverEnabled bool
	SwitchTimeout       time.Duration
	ManualSwitchGrace   time.Duration
}

// Arbiter is the read path: Next is invoked once per downstream packet
// request. It consults the shared state and any pending switch, enforces
// the switch-only-on-keyframe rule with a bounded timeout fallback, and
// finalises switches. A switch is finalised on a non-keyframe only through
// the timeout fallback or once the pending switch has been forced; the
// forced-switch read itself never emits a non-keyframe as the first packet
// of a newly active source.
type Arbiter struct {
	sources []*Source
	state   *state
	cfg     ArbiterConfig
	log     *slog.Logger
}

// NewArbiter builds an Arbiter over the given sources (index-aligned with
// their position in the switcher's configured source list; the last
// element is the reserved black filler).
func NewArbiter(sources []*Source, st *state, cfg ArbiterConfig, logger *slog.Logger) *Arbiter {
	return &Arbiter{sources: sources, state: st, cfg: cfg, log: logger}
}

func (a *Arbiter) blackIndex() int {
	return len(a.sources) - 1
}

// Next returns the next packet to hand to the Timestamp Normaliser, the
// index of the source it came from, and whether this call is the exact
// moment the Arbiter finalised a switch to that index (as opposed to an
// ordinary packet served from the already-active source, or one served
// right after a manual switch already changed the active index outside of
// a pending-switch handshake). Only a finalized=true return should cause
// the Normaliser to force a re-anchor for the new index; a manual switch
// instead relies on the Normaliser's own drift-threshold recompute to
// reanchor.
//
// ErrTryAgain means the caller should call Next again immediately (the
// loop already performed any necessary backoff sleep). ErrAllSourcesDone
// is terminal.
func (a *Arbiter) Next(now func() time.Time) (Packet, int, bool, error) {
	exhausted := true
	for _, src := range a.sources {
		if q := src.Queue(); !q.IsEOF() || q.Len() > 0 {
			exhausted = false
			break
		}
	}
	if exhausted {
		return Packet{}, 0, false, ErrAllSourcesDone
	}

	snap := a.state.snapshot()

	if snap.pending == noPendingSwitch {
		return a.caseA(snap, now)
	}
	return a.caseB(snap, now)
}

// caseA handles the no-pending-switch arm.
func (a *Arbiter) caseA(snap snapshot, now func() time.Time) (Packet, int, bool, error) {
	activeQueue := a.sources[snap.active].Queue()
	pkt, err := activeQueue.Get()
	if err == nil {
		return pkt, snap.active, false, nil
	}
	if !errors.Is(err, ErrEndOfStream) {
		return Packet{}, 0, false, err
	}

	if !a.cfg.AutoFailoverEnabled {
		return Packet{}, 0, false, ErrAllSourcesDone
	}

	if a.state.manualSwitchGraceActive(now(), a.cfg.ManualSwitchGrace) {
		time.Sleep(100 * time.Millisecond)
		return Packet{}, 0, false, ErrTryAgain
	}

	target, ok := a.failoverTarget(snap.active)
	if !ok {
		// Already on black with nothing else healthy: stay put.
		time.Sleep(100 * time.Millisecond)
		return Packet{}, 0, false, ErrTryAgain
	}

	a.state.installPending(target, now(), true)
	a.log.Info("auto-failover: pending switch installed",
		slog.Int("from", snap.active), slog.Int("to", target))
	return Packet{}, 0, false, ErrTryAgain
}

// caseB handles the pending-switch arm.
func (a *Arbiter) caseB(snap snapshot, now func() time.Time) (Packet, int, bool, error) {
	pendingQueue := a.sources[snap.pending].Queue()
	pkt, err := pendingQueue.TryGet()

	switch {
	case err == nil:
		return a.evaluatePendingPacket(pkt, snap, now)

	case errors.Is(err, ErrWouldBlock), errors.Is(err, ErrEndOfStream):
		return a.tryActiveOrForce(snap, now)

	default:
		return Packet{}, 0, false, err
	}
}

// evaluatePendingPacket decides whether a packet pulled from the pending
// queue is a valid switch boundary (keyframe, timeout, or forced).
func (a *Arbiter) evaluatePendingPacket(pkt Packet, snap snapshot, now func() time.Time) (Packet, int, bool, error) {
	timedOut := now().Sub(snap.pendingSwitchTime) > a.cfg.SwitchTimeout
	forced := !snap.waitForIframe

	if IsKeyframe(pkt) || timedOut || forced {
		newActive := a.state.finalizeSwitch()
		reason := "iframe"
		switch {
		case forced:
			reason = "forced"
		case timedOut:
			reason = "timeout"
		}
		a.log.Info("switch finalised", slog.Int("active", newActive), slog.String("reason", reason))
		return pkt, newActive, true, nil
	}

	// Not a safe boundary yet: discard this packet and keep serving the
	// current active source.
	activeQueue := a.sources[snap.active].Queue()
	activePkt, err := activeQueue.Get()
	if err != nil {
		return Packet{}, 0, false, ErrTryAgain
	}
	return activePkt, snap.active, false, nil
}

// tryActiveOrForce runs when the pending queue had nothing ready: serve
// the active queue if it has something, otherwise force the switch.
func (a *Arbiter) tryActiveOrForce(snap snapshot, now func() time.Time) (Packet, int, bool, error) {
	activeQueue := a.sources[snap.active].Queue()
	if pkt, err := activeQueue.TryGet(); err == nil {
		return pkt, snap.active, false, nil
	}

	a.state.forcePending()
	pendingQueue := a.sources[snap.pending].Queue()
	pkt, err := pendingQueue.Get()
	if err != nil {
		// Pending source also gone quiet; the health monitor will
		// eventually redirect the pending target.
		return Packet{}, 0, false, ErrTryAgain
	}

	if !IsKeyframe(pkt) {
		// Never emit a non-keyframe as the first packet of a new source.
		return Packet{}, 0, false, ErrTryAgain
	}

	newActive := a.state.finalizeSwitch()
	a.log.Info("switch finalised", slog.Int("active", newActive), slog.String("reason", "forced"))
	return pkt, newActive, true, nil
}

// failoverTarget implements the two-stage failover policy: a failing real
// source always routes through the black filler first; from black, the
// lowest-indexed healthy non-black source is reactivated.
func (a *Arbiter) failoverTarget(active int) (int, bool) {
	return twoStageFailoverTarget(a.state, active, a.blackIndex())
}

// twoStageFailoverTarget is shared between the Arbiter (on active
// end-of-stream) and the Health Monitor (on an unhealthy active source).
func twoStageFailoverTarget(st *state, active, black int) (int, bool) {
	if active != black {
		return black, true
	}
	for i := 0; i < black; i++ {
		if st.isHealthy(i) {
			return i, true
		}
	}
	return 0, false
}
