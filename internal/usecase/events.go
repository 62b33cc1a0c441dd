package usecase

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/cache"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/metrics"
	"github.com/hszk-dev/hlsforge/internal/pipeline"
	"github.com/hszk-dev/hlsforge/internal/subtitle"
	"github.com/hszk-dev/hlsforge/internal/thumbnail"
	"github.com/hszk-dev/hlsforge/internal/transcoder"
)

// describeEvent converts a non-terminal pipeline event into a live message.
// milestone marks messages that bypass progress throttling; ok is false for
// events subscribers never see, such as raw encoder output.
func describeEvent(jobID uuid.UUID, ev pipeline.Event) (msg cache.Message, milestone, ok bool) {
	msg = cache.Message{
		JobID:    jobID,
		Type:     cache.MessageProgress,
		Stage:    string(ev.Stage),
		Progress: ev.Progress,
		Status:   model.StatusProcessing.String(),
		Time:     time.Now(),
	}

	switch ev.Kind {
	case pipeline.EventVideo:
		v := ev.Video
		switch v.Kind {
		case transcoder.EventStarted:
			msg.Type = cache.MessageStage
			msg.Detail = fmt.Sprintf("encoding %d renditions with %s", len(v.Renditions), v.Encoder)
			return msg, true, true
		case transcoder.EventProgress:
			msg.Rendition = v.Rendition.Label()
			return msg, false, true
		case transcoder.EventRenditionCompleted:
			msg.Type = cache.MessageStage
			msg.Rendition = v.Rendition.Label()
			msg.Detail = "rendition completed"
			return msg, true, true
		default:
			return msg, false, false
		}

	case pipeline.EventThumbnail:
		t := ev.Thumbnail
		msg.Detail = t.Kind.String()
		switch t.Kind {
		case thumbnail.EventStarted, thumbnail.EventAssemblingSprite, thumbnail.EventWritingVTT:
			msg.Type = cache.MessageStage
			return msg, true, true
		default:
			return msg, false, true
		}

	case pipeline.EventSubtitle:
		st := ev.Subtitle
		msg.Detail = st.Kind.String()
		switch st.Kind {
		case subtitle.EventStarted, subtitle.EventDetectingStreams, subtitle.EventExtracting:
			msg.Type = cache.MessageStage
			if st.Kind == subtitle.EventExtracting {
				msg.Detail = fmt.Sprintf("extracting %s (%d/%d)", st.Track.ID(), st.Current, st.Total)
			}
			return msg, true, true
		default:
			return msg, false, true
		}

	case pipeline.EventStageSkipped:
		msg.Type = cache.MessageStage
		msg.Detail = "skipped"
		msg.ErrorKind = model.ErrorKind(ev.Err)
		return msg, true, true
	}

	return msg, false, false
}

func observeEvent(ev pipeline.Event) {
	if ev.Kind != pipeline.EventVideo {
		return
	}
	switch ev.Video.Kind {
	case transcoder.EventStarted:
		metrics.ObserveEncoderSelection(ev.Video.Encoder.String(), ev.Video.Encoder.Hardware())
	case transcoder.EventRenditionCompleted:
		metrics.RenditionsEncodedTotal.WithLabelValues(ev.Video.Rendition.Label(), ev.Video.Encoder.String()).Inc()
	}
}

func observeSummary(s *pipeline.Summary) {
	stages := []struct {
		stage  pipeline.Stage
		result pipeline.StageResult
	}{
		{pipeline.StageVideo, s.Video},
		{pipeline.StageThumbnails, s.Thumbnails},
		{pipeline.StageSubtitles, s.Subtitles},
	}
	for _, st := range stages {
		metrics.StageResultsTotal.WithLabelValues(string(st.stage), string(st.result.Status)).Inc()
	}

	for _, track := range s.SubtitleTracks {
		metrics.SubtitleTracksTotal.WithLabelValues(string(track.Source)).Inc()
	}
}
