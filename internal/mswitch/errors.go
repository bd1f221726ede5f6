package mswitch

import "errors"

// ErrTryAgain is returned by Arbiter.Next when the caller should retry
// immediately (or after a brief sleep, per the specific case that produced
// it). It is not a failure; it is the canonical in-flight retry signal.
var ErrTryAgain = errors.New("mswitch: try again")

// ErrAllSourcesDone is returned by Arbiter.Next when every source has
// reached end of stream and its queue is drained, or, with auto-failover
// disabled, when the active source has. This is the only condition
// escalated to the downstream consumer as terminal.
var ErrAllSourcesDone = errors.New("mswitch: all sources exhausted")

// ErrBadSwitchTarget is returned by RequestSwitch when the requested index
// is out of range. It never mutates switcher state.
var ErrBadSwitchTarget = errors.New("mswitch: switch target out of range")

// ErrNoData is the transient "nothing available yet" signal a Demuxer
// returns for a live source with no data currently ready. It must not be
// treated as end of stream.
var ErrNoData = errors.New("mswitch: no data available")
