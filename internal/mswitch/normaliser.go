package mswitch

import "time"

// Normaliser computes and applies a per-source additive timestamp offset
// so that output DTS (falling back to PTS when DTS is absent) is
// non-decreasing across switches. Whenever the Arbiter finalises a switch,
// the new source's offset is recomputed from its first packet so that the
// packet continues the output timeline.
type Normaliser struct {
	// driftThreshold is the magnitude a newly-required offset must exceed
	// the currently-applied one by before it is adopted; the reference
	// implementation uses 90000 ticks (~1s at a 90kHz time base). Below
	// this, intra-source jitter is left alone rather than reanchoring.
	driftThreshold int64

	offsets     []int64
	firstPacket bool

	haveLastOutput bool
	lastOutputPTS  int64
	lastOutputDTS  int64
}

// NewNormaliser creates a Normaliser for numSources independent source
// timelines.
func NewNormaliser(numSources int, driftThreshold int64) *Normaliser {
	return &Normaliser{
		driftThreshold: driftThreshold,
		offsets:        make([]int64, numSources),
		firstPacket:    true,
	}
}

// ResetForSwitch clears the target source's offset and makes the next
// packet re-anchor it onto the last output timestamp regardless of the
// drift threshold; called right after the Arbiter finalises a switch to
// `active`.
func (n *Normaliser) ResetForSwitch(active int) {
	n.firstPacket = true
	n.offsets[active] = 0
}

// Apply rewrites pkt's PTS/DTS in place (returning the rewritten copy) and
// marks source as having just been consumed. It is the sole writer of
// source.lastConsumptionMs.
func (n *Normaliser) Apply(pkt Packet, source *Source, now time.Time) Packet {
	source.MarkConsumed(now)

	reanchor := n.firstPacket
	n.firstPacket = false
	if reanchor && !n.haveLastOutput {
		if pkt.HasPTS {
			n.lastOutputPTS = pkt.PTS
			n.haveLastOutput = true
		}
		if pkt.HasDTS {
			n.lastOutputDTS = pkt.DTS
			n.haveLastOutput = true
		}
		return pkt
	}

	actual, haveActual := pkt.DTS, pkt.HasDTS
	if !haveActual {
		actual, haveActual = pkt.PTS, pkt.HasPTS
	}

	if haveActual && n.haveLastOutput {
		expected := n.lastOutputDTS
		requiredOffset := expected - actual
		current := n.offsets[source.Index]
		delta := requiredOffset - current
		if delta < 0 {
			delta = -delta
		}
		if reanchor || delta > n.driftThreshold {
			n.offsets[source.Index] = requiredOffset
		}
	}

	offset := n.offsets[source.Index]
	if pkt.HasPTS {
		pkt.PTS += offset
		n.lastOutputPTS = pkt.PTS
	}
	if pkt.HasDTS {
		pkt.DTS += offset
		n.lastOutputDTS = pkt.DTS
	}
	n.haveLastOutput = n.haveLastOutput || pkt.HasPTS || pkt.HasDTS
	return pkt
}
