package model

import (
	"fmt"
	"slices"
)

// VideoCodec is the codec family requested for the video renditions.
type VideoCodec string

const (
	VideoCodecH264 VideoCodec = "h264"
	VideoCodecH265 VideoCodec = "h265"
)

func (c VideoCodec) IsValid() bool {
	return c == VideoCodecH264 || c == VideoCodecH265
}

// SpeedPreset is the x264-style encoding speed preset, from fastest to slowest.
type SpeedPreset string

const (
	SpeedUltrafast SpeedPreset = "ultrafast"
	SpeedSuperfast SpeedPreset = "superfast"
	SpeedVeryfast  SpeedPreset = "veryfast"
	SpeedFaster    SpeedPreset = "faster"
	SpeedFast      SpeedPreset = "fast"
	SpeedMedium    SpeedPreset = "medium"
	SpeedSlow      SpeedPreset = "slow"
	SpeedSlower    SpeedPreset = "slower"
	SpeedVeryslow  SpeedPreset = "veryslow"
)

var speedPresets = []SpeedPreset{
	SpeedUltrafast, SpeedSuperfast, SpeedVeryfast, SpeedFaster, SpeedFast,
	SpeedMedium, SpeedSlow, SpeedSlower, SpeedVeryslow,
}

func (p SpeedPreset) IsValid() bool {
	return slices.Contains(speedPresets, p)
}

// QualityPreset selects the constant rate factor used for each codec family.
type QualityPreset string

const (
	QualityHigh      QualityPreset = "high"
	QualityBalanced  QualityPreset = "balanced"
	QualityEfficient QualityPreset = "efficient"
)

func (q QualityPreset) IsValid() bool {
	switch q {
	case QualityHigh, QualityBalanced, QualityEfficient:
		return true
	default:
		return false
	}
}

// CRF returns the rate-distortion parameter for the codec family.
// Lower is better quality. Unknown presets fall back to balanced.
func (q QualityPreset) CRF(codec VideoCodec) int {
	h265 := codec == VideoCodecH265
	switch q {
	case QualityHigh:
		if h265 {
			return 24
		}
		return 18
	case QualityEfficient:
		if h265 {
			return 32
		}
		return 28
	default:
		if h265 {
			return 28
		}
		return 23
	}
}

// AudioCodec is the ffmpeg audio encoder name.
type AudioCodec string

const (
	AudioCodecAAC  AudioCodec = "aac"
	AudioCodecOpus AudioCodec = "libopus"
	AudioCodecMP3  AudioCodec = "libmp3lame"
)

func (c AudioCodec) IsValid() bool {
	switch c {
	case AudioCodecAAC, AudioCodecOpus, AudioCodecMP3:
		return true
	default:
		return false
	}
}

// AudioBitrate is an ffmpeg bitrate literal such as "128k".
type AudioBitrate string

const (
	AudioBitrate96k  AudioBitrate = "96k"
	AudioBitrate128k AudioBitrate = "128k"
	AudioBitrate192k AudioBitrate = "192k"
	AudioBitrate256k AudioBitrate = "256k"
	AudioBitrate320k AudioBitrate = "320k"
)

func (b AudioBitrate) IsValid() bool {
	switch b {
	case AudioBitrate96k, AudioBitrate128k, AudioBitrate192k, AudioBitrate256k, AudioBitrate320k:
		return true
	default:
		return false
	}
}

const (
	DefaultTargetDuration = 10
	DefaultStartNumber    = 0
)

// ConversionOptions is the immutable configuration for one conversion.
// It is assembled once by the caller and passed by value into the pipeline.
type ConversionOptions struct {
	// Encoder overrides encoder selection when non-empty. It is used as given.
	Encoder        Encoder       `json:"encoder,omitempty" yaml:"encoder"`
	VideoCodec     VideoCodec    `json:"video_codec" yaml:"video_codec"`
	SpeedPreset    SpeedPreset   `json:"speed_preset" yaml:"speed_preset"`
	QualityPreset  QualityPreset `json:"quality_preset" yaml:"quality_preset"`
	AudioCodec     AudioCodec    `json:"audio_codec" yaml:"audio_codec"`
	AudioBitrate   AudioBitrate  `json:"audio_bitrate" yaml:"audio_bitrate"`
	TargetDuration int           `json:"target_duration" yaml:"target_duration"`
	StartNumber    int           `json:"start_number" yaml:"start_number"`

	Thumbnails *ThumbnailOptions `json:"thumbnails,omitempty" yaml:"thumbnails"`
	Subtitles  *SubtitleOptions  `json:"subtitles,omitempty" yaml:"subtitles"`
}

// DefaultConversionOptions returns the options used when the caller does not override anything.
func DefaultConversionOptions() ConversionOptions {
	return ConversionOptions{
		VideoCodec:     VideoCodecH264,
		SpeedPreset:    SpeedSlow,
		QualityPreset:  QualityBalanced,
		AudioCodec:     AudioCodecAAC,
		AudioBitrate:   AudioBitrate128k,
		TargetDuration: DefaultTargetDuration,
		StartNumber:    DefaultStartNumber,
	}
}

// CRF returns the quality parameter for the configured codec family and preset.
func (o ConversionOptions) CRF() int {
	return o.QualityPreset.CRF(o.VideoCodec)
}

// ThumbnailsEnabled reports whether a thumbnail sub-pipeline was requested.
func (o ConversionOptions) ThumbnailsEnabled() bool {
	return o.Thumbnails != nil && o.Thumbnails.Enabled
}

// SubtitlesEnabled reports whether a subtitle sub-pipeline was requested.
func (o ConversionOptions) SubtitlesEnabled() bool {
	return o.Subtitles != nil && o.Subtitles.Enabled
}

// Validate checks every enumerated field. The encoder override is not validated.
func (o ConversionOptions) Validate() error {
	if !o.VideoCodec.IsValid() {
		return fmt.Errorf("%w: video codec %q", ErrInvalidOptions, o.VideoCodec)
	}
	if !o.SpeedPreset.IsValid() {
		return fmt.Errorf("%w: speed preset %q", ErrInvalidOptions, o.SpeedPreset)
	}
	if !o.QualityPreset.IsValid() {
		return fmt.Errorf("%w: quality preset %q", ErrInvalidOptions, o.QualityPreset)
	}
	if !o.AudioCodec.IsValid() {
		return fmt.Errorf("%w: audio codec %q", ErrInvalidOptions, o.AudioCodec)
	}
	if !o.AudioBitrate.IsValid() {
		return fmt.Errorf("%w: audio bitrate %q", ErrInvalidOptions, o.AudioBitrate)
	}
	if o.TargetDuration < 1 {
		return fmt.Errorf("%w: target duration must be at least 1 second", ErrInvalidOptions)
	}
	if o.StartNumber < 0 {
		return fmt.Errorf("%w: start number must not be negative", ErrInvalidOptions)
	}
	if o.Thumbnails != nil {
		if err := o.Thumbnails.Validate(); err != nil {
			return err
		}
	}
	if o.Subtitles != nil {
		if err := o.Subtitles.Validate(); err != nil {
			return err
		}
	}
	return nil
}
