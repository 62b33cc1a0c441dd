// Package thumbnail builds seek-preview sprite sheets with a WebVTT cue index.
package thumbnail

import (
	"fmt"
	"math"
	"strings"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

const (
	// SpriteBaseName is the sprite sheet file name without extension.
	SpriteBaseName = "thumbnails"
	// VTTName is the cue index file name.
	VTTName = "thumbnails.vtt"
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventExtractingFrames
	EventAssemblingSprite
	EventWritingVTT
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventExtractingFrames:
		return "extracting_frames"
	case EventAssemblingSprite:
		return "assembling_sprite"
	case EventWritingVTT:
		return "writing_vtt"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one notification from thumbnail generation.
type Event struct {
	Kind EventKind

	// ExtractingFrames: Current is 1-based.
	Current int
	Total   int

	// Completed.
	SpritePath string
	VTTPath    string

	// Failed.
	Err error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// Fraction returns extraction progress in [0,1].
func (e Event) Fraction() float64 {
	switch {
	case e.Kind == EventCompleted:
		return 1
	case e.Total > 0:
		return float64(e.Current) / float64(e.Total)
	default:
		return 0
	}
}

// Layout is the sprite grid for one source.
type Layout struct {
	Frames   int
	Columns  int
	Rows     int
	Width    int // single thumbnail
	Height   int // single thumbnail
	Interval float64
	Duration float64
}

// ComputeLayout derives the frame count and grid for a source.
// A source shorter than one interval returns model.ErrInsufficientDuration.
func ComputeLayout(opts model.ThumbnailOptions, duration float64, sourceWidth, sourceHeight int) (Layout, error) {
	if sourceWidth <= 0 || sourceHeight <= 0 || duration <= 0 {
		return Layout{}, fmt.Errorf("%w: source %dx%d, %.3fs", model.ErrInvalidSourceMetadata, sourceWidth, sourceHeight, duration)
	}
	if opts.Interval <= 0 || opts.Width <= 0 || opts.Columns <= 0 {
		return Layout{}, fmt.Errorf("%w: thumbnail interval, width and columns must be positive", model.ErrInvalidOptions)
	}

	frames := int(math.Floor(duration / opts.Interval))
	if frames == 0 {
		return Layout{}, fmt.Errorf("%w: %.3fs source, %.3fs interval", model.ErrInsufficientDuration, duration, opts.Interval)
	}

	height := opts.Width * sourceHeight / sourceWidth
	// Most encoders reject odd dimensions.
	height -= height % 2
	if height < 2 {
		height = 2
	}

	return Layout{
		Frames:   frames,
		Columns:  opts.Columns,
		Rows:     (frames + opts.Columns - 1) / opts.Columns,
		Width:    opts.Width,
		Height:   height,
		Interval: opts.Interval,
		Duration: duration,
	}, nil
}

// Tile returns the top-left pixel of frame i in the sprite, in row-major order.
func (l Layout) Tile(i int) (x, y int) {
	return (i % l.Columns) * l.Width, (i / l.Columns) * l.Height
}

// Cue returns the time range covered by frame i.
func (l Layout) Cue(i int) (start, end float64) {
	start = float64(i) * l.Interval
	end = math.Min(float64(i+1)*l.Interval, l.Duration)
	return start, end
}

// BuildVTT renders the cue index mapping each time range to its sprite region.
func BuildVTT(l Layout, spriteName string) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for i := 0; i < l.Frames; i++ {
		start, end := l.Cue(i)
		x, y := l.Tile(i)
		fmt.Fprintf(&sb, "%s --> %s\n", FormatTimestamp(start), FormatTimestamp(end))
		fmt.Fprintf(&sb, "%s#xywh=%d,%d,%d,%d\n\n", spriteName, x, y, l.Width, l.Height)
	}
	return sb.String()
}

// FormatTimestamp formats seconds as HH:MM:SS.mmm.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}
