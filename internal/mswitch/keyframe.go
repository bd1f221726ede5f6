package mswitch

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// IsKeyframe reports whether pkt is safe to use as the first packet of a
// newly active source. It trusts the container-level flag when set; when
// unset it falls back to unmarshalling the Annex B payload and asking
// whether the access unit contains an IDR, SPS, or PPS NAL unit.
//
// This is H.264-specific. For any other codec, absent a container flag,
// the packet is never treated as a keyframe: silently assuming every
// packet is safe would violate the no-non-keyframe-first invariant.
func IsKeyframe(pkt Packet) bool {
	if pkt.Keyframe {
		return true
	}
	return scanH264Keyframe(pkt.Payload)
}

// scanH264Keyframe unmarshals an Annex B access unit and checks it for a
// NAL unit of type IDR (5), SPS (7), or PPS (8) using mediacommon's typed
// NAL unit constants.
func scanH264Keyframe(payload []byte) bool {
	if len(payload) < 4 {
		return false
	}

	var au h264.AnnexB
	if err := au.Unmarshal(payload); err != nil {
		return false
	}
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeIDR, h264.NALUTypeSPS, h264.NALUTypePPS:
			return true
		}
	}
	return false
}
