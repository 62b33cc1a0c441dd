package model

import "fmt"

// ImageFormat is the sprite sheet and frame image format.
type ImageFormat string

const (
	ImageFormatJPEG ImageFormat = "jpeg"
	ImageFormatWebP ImageFormat = "webp"
)

func (f ImageFormat) IsValid() bool {
	return f == ImageFormatJPEG || f == ImageFormatWebP
}

// Extension returns the file extension without the leading dot.
func (f ImageFormat) Extension() string {
	if f == ImageFormatWebP {
		return "webp"
	}
	return "jpg"
}

// QualityArgs returns the encoder flags controlling image quality.
func (f ImageFormat) QualityArgs() []string {
	if f == ImageFormatWebP {
		return []string{"-quality", "80"}
	}
	return []string{"-q:v", "2"}
}

// Thumbnail width presets.
const (
	ThumbnailWidthSmall  = 160
	ThumbnailWidthMedium = 320
	ThumbnailWidthLarge  = 480
)

// Thumbnail interval presets, in seconds.
const (
	ThumbnailIntervalFrequent = 5.0
	ThumbnailIntervalStandard = 10.0
	ThumbnailIntervalSparse   = 30.0
)

// ThumbnailOptions configures sprite sheet generation.
type ThumbnailOptions struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Interval is the sampling interval in seconds.
	Interval float64 `json:"interval" yaml:"interval"`
	// Width is the width of a single thumbnail. Height follows the source aspect ratio.
	Width   int         `json:"width" yaml:"width"`
	Format  ImageFormat `json:"format" yaml:"format"`
	Columns int         `json:"columns" yaml:"columns"`
	// Concurrent runs thumbnail generation alongside video encoding instead of after it.
	Concurrent bool `json:"concurrent" yaml:"concurrent"`
}

func DefaultThumbnailOptions() ThumbnailOptions {
	return ThumbnailOptions{
		Enabled:    true,
		Interval:   ThumbnailIntervalStandard,
		Width:      ThumbnailWidthMedium,
		Format:     ImageFormatJPEG,
		Columns:    10,
		Concurrent: true,
	}
}

func (o ThumbnailOptions) Validate() error {
	if !o.Enabled {
		return nil
	}
	if o.Interval <= 0 {
		return fmt.Errorf("%w: thumbnail interval must be positive", ErrInvalidOptions)
	}
	if o.Width < 2 {
		return fmt.Errorf("%w: thumbnail width must be at least 2 pixels", ErrInvalidOptions)
	}
	if !o.Format.IsValid() {
		return fmt.Errorf("%w: thumbnail format %q", ErrInvalidOptions, o.Format)
	}
	if o.Columns < 1 {
		return fmt.Errorf("%w: thumbnail columns must be at least 1", ErrInvalidOptions)
	}
	return nil
}
