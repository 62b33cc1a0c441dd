package model

// Encoder is an ffmpeg video encoder name.
type Encoder string

const (
	EncoderLibx264          Encoder = "libx264"
	EncoderH264VideoToolbox Encoder = "h264_videotoolbox"
	EncoderH264QSV          Encoder = "h264_qsv"
	EncoderLibx265          Encoder = "libx265"
	EncoderHEVCVideoToolbox Encoder = "hevc_videotoolbox"
	EncoderHEVCQSV          Encoder = "hevc_qsv"
)

// KnownEncoders lists the encoders the selector knows how to rank.
func KnownEncoders() []Encoder {
	return []Encoder{
		EncoderH264VideoToolbox,
		EncoderH264QSV,
		EncoderLibx264,
		EncoderHEVCVideoToolbox,
		EncoderHEVCQSV,
		EncoderLibx265,
	}
}

// Family returns the codec family the encoder produces.
// Unknown encoders report an empty family.
func (e Encoder) Family() VideoCodec {
	switch e {
	case EncoderLibx264, EncoderH264VideoToolbox, EncoderH264QSV:
		return VideoCodecH264
	case EncoderLibx265, EncoderHEVCVideoToolbox, EncoderHEVCQSV:
		return VideoCodecH265
	default:
		return ""
	}
}

// Hardware reports whether the encoder offloads work to a hardware block.
func (e Encoder) Hardware() bool {
	switch e {
	case EncoderH264VideoToolbox, EncoderH264QSV, EncoderHEVCVideoToolbox, EncoderHEVCQSV:
		return true
	default:
		return false
	}
}

func (e Encoder) String() string {
	return string(e)
}
