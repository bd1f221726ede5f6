package mswitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func annexB(nalTypes ...byte) []byte {
	var out []byte
	for _, t := range nalTypes {
		out = append(out, 0x00, 0x00, 0x00, 0x01, t)
	}
	return out
}

func TestIsKeyframe_TrustsContainerFlag(t *testing.T) {
	pkt := Packet{Keyframe: true, Payload: annexB(1)} // NAL type 1 = non-IDR slice
	assert.True(t, IsKeyframe(pkt))
}

func TestIsKeyframe_ScansIDR(t *testing.T) {
	pkt := Packet{Payload: annexB(7, 8, 5)} // SPS, PPS, IDR
	assert.True(t, IsKeyframe(pkt))
}

func TestIsKeyframe_NonIDRSliceIsNotKeyframe(t *testing.T) {
	pkt := Packet{Payload: annexB(1)} // non-IDR slice only
	assert.False(t, IsKeyframe(pkt))
}

func TestIsKeyframe_EmptyPayload(t *testing.T) {
	pkt := Packet{Payload: nil}
	assert.False(t, IsKeyframe(pkt))
}
