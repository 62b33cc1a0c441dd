package subtitle

import "github.com/hszk-dev/hlsforge/internal/domain/model"

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventDetectingStreams
	EventExtracting
	EventSegmenting
	EventWritingPlaylist
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventDetectingStreams:
		return "detecting_streams"
	case EventExtracting:
		return "extracting"
	case EventSegmenting:
		return "segmenting"
	case EventWritingPlaylist:
		return "writing_playlist"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one notification from subtitle processing.
type Event struct {
	Kind EventKind

	// Extracting, Segmenting and WritingPlaylist.
	Track model.SubtitleTrack
	// Extracting: Current is 1-based.
	Current int
	Total   int

	// Completed. Playlists[i] is the playlist path written for Tracks[i].
	Tracks    []model.SubtitleTrack
	Playlists []string

	// Failed.
	Err error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// Fraction returns track progress in [0,1].
func (e Event) Fraction() float64 {
	switch {
	case e.Kind == EventCompleted:
		return 1
	case e.Kind == EventExtracting && e.Total > 0:
		return float64(e.Current-1) / float64(e.Total)
	default:
		return 0
	}
}
