package pipeline

import (
	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/subtitle"
	"github.com/hszk-dev/hlsforge/internal/thumbnail"
	"github.com/hszk-dev/hlsforge/internal/transcoder"
)

// Stage names one sub-pipeline of a conversion.
type Stage string

const (
	StageVideo      Stage = "video"
	StageThumbnails Stage = "thumbnails"
	StageSubtitles  Stage = "subtitles"
)

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StatusDisabled  StageStatus = "disabled"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	// StatusSkipped means the stage was enabled but never ran because the
	// video stage it waits for did not succeed.
	StatusSkipped StageStatus = "skipped"
)

// StageResult is the outcome of one stage.
type StageResult struct {
	Status StageStatus
	Err    error
}

// Summary collects every stage outcome and the artifacts written.
type Summary struct {
	Video      StageResult
	Thumbnails StageResult
	Subtitles  StageResult

	Encoder        model.Encoder
	Renditions     []model.Rendition
	MasterPlaylist string

	SpritePath string
	VTTPath    string

	SubtitleTracks    []model.SubtitleTrack
	SubtitlePlaylists []string
}

// Err returns the video stage error. Only the video stage decides whether a
// conversion failed.
func (s *Summary) Err() error {
	return s.Video.Err
}

// Degraded returns the auxiliary stages that were enabled but did not
// complete, in thumbnails, subtitles order.
func (s *Summary) Degraded() []Stage {
	var stages []Stage
	if s.Thumbnails.Err != nil {
		stages = append(stages, StageThumbnails)
	}
	if s.Subtitles.Err != nil {
		stages = append(stages, StageSubtitles)
	}
	return stages
}

func (s *Summary) stage(st Stage) StageResult {
	switch st {
	case StageThumbnails:
		return s.Thumbnails
	case StageSubtitles:
		return s.Subtitles
	default:
		return s.Video
	}
}

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	// EventVideo wraps a transcoder event.
	EventVideo EventKind = iota + 1
	// EventThumbnail wraps a thumbnail event.
	EventThumbnail
	// EventSubtitle wraps a subtitle event.
	EventSubtitle
	// EventStageSkipped reports an enabled stage that will not run.
	EventStageSkipped
	// EventCompleted is terminal: the video stage completed. Thumbnails and
	// subtitles may still have failed; see Summary.Degraded.
	EventCompleted
	// EventFailed is terminal: the video stage failed or the run was cancelled.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventVideo:
		return "video"
	case EventThumbnail:
		return "thumbnail"
	case EventSubtitle:
		return "subtitle"
	case EventStageSkipped:
		return "stage_skipped"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one notification from a full conversion. Exactly one of Video,
// Thumbnail and Subtitle is set for the wrapping kinds, selected by Stage.
type Event struct {
	Kind  EventKind
	Stage Stage

	Video     transcoder.Event
	Thumbnail thumbnail.Event
	Subtitle  subtitle.Event

	// Progress is the overall completion across enabled stages, in [0,1].
	// It never decreases within one run.
	Progress float64

	// Completed and Failed.
	Summary *Summary
	// Failed and StageSkipped.
	Err error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// Line returns the raw encoder output carried by a video output event.
func (e Event) Line() (string, bool) {
	if e.Kind == EventVideo && e.Video.Kind == transcoder.EventOutput {
		return e.Video.Line, true
	}
	return "", false
}
