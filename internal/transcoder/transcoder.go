package transcoder

import (
	"context"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
)

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	// EventStarted is sent once the source is probed, the renditions are
	// planned and an encoder is chosen.
	EventStarted EventKind = iota + 1
	// EventOutput carries one raw line of encoder output.
	EventOutput
	// EventProgress carries the encode position of the current rendition.
	EventProgress
	// EventRenditionCompleted is sent after a rendition's subprocess exits successfully.
	EventRenditionCompleted
	// EventCompleted is terminal: every rendition and the master playlist were written.
	EventCompleted
	// EventFailed is terminal and carries the error.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventOutput:
		return "output"
	case EventProgress:
		return "progress"
	case EventRenditionCompleted:
		return "rendition_completed"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one notification from a video conversion.
type Event struct {
	Kind EventKind

	// Started and Completed. Encoder is also set on RenditionCompleted.
	Encoder    model.Encoder
	Renditions []model.Rendition
	Source     toolchain.Source

	// Output, Progress and RenditionCompleted.
	Rendition model.Rendition
	Line      string
	// Fraction is the encoded share of the source duration, in [0,1].
	Fraction float64

	// Completed.
	MasterPlaylist string

	// Failed.
	Err error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// Transcoder converts a source video into an HLS rendition set.
type Transcoder interface {
	// Convert encodes every planned rendition of inputPath into outputDir and
	// writes the master playlist.
	//
	// The returned channel delivers events in order and is closed after exactly
	// one terminal event (EventCompleted or EventFailed). Cancelling ctx kills
	// the running encoder and produces EventFailed with an error matching
	// model.ErrCancelled, or model.ErrTimedOut when its deadline expired.
	// Callers must drain the channel until it is closed.
	//
	// Partial output is left in outputDir on failure; remove it with Cleanup.
	Convert(ctx context.Context, inputPath, outputDir string, opts model.ConversionOptions, excluded []model.Rendition) <-chan Event
}
