// Package mswitch implements a multi-source live video switcher: it reads
// several concurrent sources of nominally identical program content into
// per-source packet queues, selects which queue feeds a single downstream
// consumer, and switches between sources only at keyframe boundaries while
// keeping the emitted timestamp sequence monotonic.
package mswitch

// Packet is a single demuxed media unit moved from a Source Reader through
// a Queue to the Switch Arbiter. It is a single-owner value: once handed to
// a Queue the sender must not retain a reference to Payload.
type Packet struct {
	// Payload is the raw elementary-stream payload (e.g. H.264 Annex B access unit).
	Payload []byte

	// PTS and DTS are in the source container's time base. HasPTS/HasDTS
	// distinguish an absent timestamp from a zero one.
	PTS    int64
	DTS    int64
	HasPTS bool
	HasDTS bool

	// StreamIndex identifies the elementary stream within the source
	// (e.g. 0 for video, 1 for audio) so a downstream consumer can demux
	// multiple tracks from one switcher output.
	StreamIndex int

	// Keyframe is the container-level random-access flag. When a source
	// cannot supply one reliably, the Switch Arbiter falls back to the
	// Keyframe Detector's NAL scan.
	Keyframe bool
}
