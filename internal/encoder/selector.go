// Package encoder picks the video encoder for a conversion.
package encoder

import (
	"runtime"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

// ProbeFunc reports whether an encoder works on this machine.
type ProbeFunc func(model.Encoder) bool

// Select returns the encoder to use for family on the running architecture.
// A non-empty override is returned as is. Hardware encoders are preferred
// when probe accepts them; libx264 is the final fallback and is never probed.
func Select(override model.Encoder, family model.VideoCodec, probe ProbeFunc) model.Encoder {
	return SelectFor(runtime.GOARCH, override, family, probe)
}

// SelectFor is Select with an explicit GOARCH value.
func SelectFor(arch string, override model.Encoder, family model.VideoCodec, probe ProbeFunc) model.Encoder {
	if override != "" {
		return override
	}
	for _, enc := range Candidates(arch, family) {
		if probe != nil && probe(enc) {
			return enc
		}
	}
	return model.EncoderLibx264
}

// Candidates lists the encoders probed for family on arch, in priority order.
// HEVC candidates fall through to the H.264 chain.
func Candidates(arch string, family model.VideoCodec) []model.Encoder {
	var out []model.Encoder
	if family == model.VideoCodecH265 {
		if hw := hardwareEncoder(arch, model.VideoCodecH265); hw != "" {
			out = append(out, hw)
		}
		out = append(out, model.EncoderLibx265)
	}
	if hw := hardwareEncoder(arch, model.VideoCodecH264); hw != "" {
		out = append(out, hw)
	}
	return out
}

func hardwareEncoder(arch string, family model.VideoCodec) model.Encoder {
	switch arch {
	case "arm64":
		if family == model.VideoCodecH265 {
			return model.EncoderHEVCVideoToolbox
		}
		return model.EncoderH264VideoToolbox
	case "amd64":
		if family == model.VideoCodecH265 {
			return model.EncoderHEVCQSV
		}
		return model.EncoderH264QSV
	default:
		return ""
	}
}
