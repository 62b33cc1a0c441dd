// Package pipeline schedules the video, thumbnail and subtitle stages of one
// conversion and merges their events into a single stream.
//
// Thumbnails and subtitles with Concurrent set run alongside the video
// encode. Thumbnails need the probed source, so they start once the video
// stage has reported it. Stages with Concurrent unset start only after the
// video stage completes and are skipped when it does not. A video failure
// never cancels a stage that is already running.
//
// The video stage alone decides the terminal event. A thumbnail or subtitle
// failure leaves a playable stream and is reported through Summary.Degraded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/eventstream"
	"github.com/hszk-dev/hlsforge/internal/subtitle"
	"github.com/hszk-dev/hlsforge/internal/thumbnail"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
	"github.com/hszk-dev/hlsforge/internal/transcoder"
)

const tracerName = "github.com/hszk-dev/hlsforge/internal/pipeline"

// ErrStageSkipped marks a stage that waited for a video stage that failed.
var ErrStageSkipped = errors.New("stage skipped")

// ThumbnailGenerator is implemented by *thumbnail.Generator.
type ThumbnailGenerator interface {
	Generate(ctx context.Context, inputPath, outputDir string, opts model.ThumbnailOptions, duration float64, sourceWidth, sourceHeight int) <-chan thumbnail.Event
}

// SubtitleProcessor is implemented by *subtitle.Processor.
type SubtitleProcessor interface {
	Process(ctx context.Context, inputPath, outputDir string, opts model.SubtitleOptions, targetDuration float64) <-chan subtitle.Event
}

// Request describes one conversion.
type Request struct {
	InputPath string
	OutputDir string
	Options   model.ConversionOptions
	Excluded  []model.Rendition
}

// Runner runs conversions.
type Runner struct {
	video      transcoder.Transcoder
	thumbnails ThumbnailGenerator
	subtitles  SubtitleProcessor
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewRunner creates a Runner. All three stages are required.
func NewRunner(video transcoder.Transcoder, thumbnails ThumbnailGenerator, subtitles SubtitleProcessor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		video:      video,
		thumbnails: thumbnails,
		subtitles:  subtitles,
		logger:     logger.With(slog.String("component", "pipeline")),
		tracer:     otel.Tracer(tracerName),
	}
}

// Run starts the conversion and returns its merged event stream. The channel
// is closed after exactly one EventCompleted or EventFailed, which carries the
// Summary. Every wrapped stage stream is drained before that.
func (r *Runner) Run(ctx context.Context, req Request) <-chan Event {
	em, events := eventstream.New[Event](ctx, eventstream.DefaultBuffer)

	go func() {
		em.Finish(r.run(ctx, req, em))
	}()

	return events
}

// videoState lets dependent stages wait on the video stage.
type videoState struct {
	started chan struct{} // closed on the video Started event
	done    chan struct{} // closed once the video stream is drained
	source  toolchain.Source
	err     error
}

// waitStarted blocks until the source is known or the video stage ended
// without reporting it.
func (v *videoState) waitStarted() bool {
	select {
	case <-v.started:
		return true
	case <-v.done:
	}
	select {
	case <-v.started:
		return true
	default:
		return false
	}
}

// waitSucceeded blocks until the video stage ends and reports its success.
func (v *videoState) waitSucceeded() bool {
	<-v.done
	return v.err == nil
}

func (v *videoState) skipErr() error {
	if v.err == nil {
		return ErrStageSkipped
	}
	return fmt.Errorf("%w: %w", ErrStageSkipped, v.err)
}

func (r *Runner) run(ctx context.Context, req Request, em *eventstream.Emitter[Event]) Event {
	ctx, span := r.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("input", req.InputPath),
		attribute.String("output_dir", req.OutputDir),
	))
	defer span.End()

	opts := req.Options
	summary := &Summary{
		Thumbnails: StageResult{Status: StatusDisabled},
		Subtitles:  StageResult{Status: StatusDisabled},
	}
	stages := []Stage{StageVideo}
	if opts.ThumbnailsEnabled() {
		stages = append(stages, StageThumbnails)
	}
	if opts.SubtitlesEnabled() {
		stages = append(stages, StageSubtitles)
	}

	out := newFanIn(em, stages)
	video := &videoState{started: make(chan struct{}), done: make(chan struct{})}

	var g errgroup.Group
	g.Go(func() error {
		return r.runVideo(ctx, req, out, summary, video)
	})
	if opts.ThumbnailsEnabled() {
		g.Go(func() error {
			return r.runThumbnails(ctx, req, out, summary, video)
		})
	}
	if opts.SubtitlesEnabled() {
		g.Go(func() error {
			return r.runSubtitles(ctx, req, out, summary, video)
		})
	}
	// Stage errors are collected in the summary; Wait only orders completion.
	_ = g.Wait()

	r.logger.Info("conversion pipeline finished",
		slog.String("input", req.InputPath),
		slog.String("video", string(summary.Video.Status)),
		slog.String("thumbnails", string(summary.Thumbnails.Status)),
		slog.String("subtitles", string(summary.Subtitles.Status)),
	)

	if err := summary.Err(); err != nil {
		recordError(span, err)
		return Event{Kind: EventFailed, Summary: summary, Err: err, Progress: out.progress()}
	}
	degraded := summary.Degraded()
	if len(degraded) > 0 && ctx.Err() != nil {
		// A stage cut short by cancellation does not count as degraded output.
		err := model.Cancelled(ctx)
		recordError(span, err)
		return Event{Kind: EventFailed, Summary: summary, Err: err, Progress: out.progress()}
	}
	for _, stage := range degraded {
		r.logger.Warn("stage failed, output is degraded",
			slog.String("input", req.InputPath),
			slog.String("stage", string(stage)),
			slog.Any("error", summary.stage(stage).Err),
		)
		span.AddEvent("stage degraded", trace.WithAttributes(attribute.String("stage", string(stage))))
	}
	return Event{Kind: EventCompleted, Summary: summary, Progress: 1}
}

func (r *Runner) runVideo(ctx context.Context, req Request, out *fanIn, summary *Summary, video *videoState) error {
	ctx, span := r.tracer.Start(ctx, "pipeline.video")
	defer span.End()
	defer close(video.done)

	var fraction videoFraction
	for ev := range r.video.Convert(ctx, req.InputPath, req.OutputDir, req.Options, req.Excluded) {
		switch ev.Kind {
		case transcoder.EventStarted:
			video.source = ev.Source
			close(video.started)
			summary.Encoder = ev.Encoder
			summary.Renditions = ev.Renditions
			span.SetAttributes(
				attribute.String("encoder", ev.Encoder.String()),
				attribute.Int("renditions", len(ev.Renditions)),
			)
		case transcoder.EventRenditionCompleted:
			span.AddEvent("rendition completed", trace.WithAttributes(attribute.String("rendition", ev.Rendition.Label())))
		case transcoder.EventCompleted:
			summary.Video = StageResult{Status: StatusCompleted}
			summary.MasterPlaylist = ev.MasterPlaylist
		case transcoder.EventFailed:
			summary.Video = StageResult{Status: StatusFailed, Err: ev.Err}
		}
		out.send(Event{Kind: EventVideo, Stage: StageVideo, Video: ev}, fraction.update(ev))
	}

	if summary.Video.Status == "" {
		summary.Video = StageResult{Status: StatusFailed, Err: errors.New("video stream ended without a terminal event")}
	}
	video.err = summary.Video.Err
	if video.err != nil {
		recordError(span, video.err)
	}
	return video.err
}

func (r *Runner) runThumbnails(ctx context.Context, req Request, out *fanIn, summary *Summary, video *videoState) error {
	opts := *req.Options.Thumbnails

	var ready bool
	if opts.Concurrent {
		ready = video.waitStarted()
	} else {
		ready = video.waitSucceeded()
	}
	if !ready {
		err := video.skipErr()
		summary.Thumbnails = StageResult{Status: StatusSkipped, Err: err}
		out.send(Event{Kind: EventStageSkipped, Stage: StageThumbnails, Err: err}, 0)
		return err
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.thumbnails")
	defer span.End()

	src := video.source
	for ev := range r.thumbnails.Generate(ctx, req.InputPath, req.OutputDir, opts, src.Duration, src.Width, src.Height) {
		switch ev.Kind {
		case thumbnail.EventCompleted:
			summary.Thumbnails = StageResult{Status: StatusCompleted}
			summary.SpritePath = ev.SpritePath
			summary.VTTPath = ev.VTTPath
		case thumbnail.EventFailed:
			summary.Thumbnails = StageResult{Status: StatusFailed, Err: ev.Err}
			recordError(span, ev.Err)
		}
		out.send(Event{Kind: EventThumbnail, Stage: StageThumbnails, Thumbnail: ev}, ev.Fraction())
	}
	return summary.Thumbnails.Err
}

func (r *Runner) runSubtitles(ctx context.Context, req Request, out *fanIn, summary *Summary, video *videoState) error {
	opts := *req.Options.Subtitles

	if !opts.Concurrent && !video.waitSucceeded() {
		err := video.skipErr()
		summary.Subtitles = StageResult{Status: StatusSkipped, Err: err}
		out.send(Event{Kind: EventStageSkipped, Stage: StageSubtitles, Err: err}, 0)
		return err
	}

	ctx, span := r.tracer.Start(ctx, "pipeline.subtitles")
	defer span.End()

	for ev := range r.subtitles.Process(ctx, req.InputPath, req.OutputDir, opts, float64(req.Options.TargetDuration)) {
		switch ev.Kind {
		case subtitle.EventCompleted:
			summary.Subtitles = StageResult{Status: StatusCompleted}
			summary.SubtitleTracks = ev.Tracks
			summary.SubtitlePlaylists = ev.Playlists
			span.SetAttributes(attribute.Int("tracks", len(ev.Tracks)))
		case subtitle.EventFailed:
			summary.Subtitles = StageResult{Status: StatusFailed, Err: ev.Err}
			recordError(span, ev.Err)
		}
		out.send(Event{Kind: EventSubtitle, Stage: StageSubtitles, Subtitle: ev}, ev.Fraction())
	}
	return summary.Subtitles.Err
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, model.ErrorKind(err))
}
