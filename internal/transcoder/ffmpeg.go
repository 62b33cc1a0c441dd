package transcoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/encoder"
	"github.com/hszk-dev/hlsforge/internal/eventstream"
	"github.com/hszk-dev/hlsforge/internal/playlist"
	"github.com/hszk-dev/hlsforge/internal/rendition"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
)

// Keyframe interval in frames, about two seconds at 24fps. Identical across
// renditions so segment boundaries line up for bitrate switching.
const gopSize = 48

// EncoderProber reports whether an encoder works on this machine.
type EncoderProber interface {
	Supported(ctx context.Context, enc model.Encoder) bool
}

// FFmpegConfig holds the collaborators of FFmpegTranscoder.
type FFmpegConfig struct {
	// Engine is the resolved toolchain. Conversions fail with
	// model.ErrEngineNotFound when it is not available.
	Engine toolchain.Engine

	// Runner executes ffmpeg. Defaults to an Exec of Engine.FFmpeg.
	Runner toolchain.Runner

	// Prober checks encoder support. Defaults to an encoder.Prober over Runner.
	Prober EncoderProber

	// Arch selects the hardware encoder family. Defaults to runtime.GOARCH.
	Arch string

	Logger *slog.Logger
}

// FFmpegTranscoder implements Transcoder using the ffmpeg CLI.
type FFmpegTranscoder struct {
	engine toolchain.Engine
	ffmpeg toolchain.Runner
	prober EncoderProber
	arch   string
	logger *slog.Logger
}

// Compile-time verification that FFmpegTranscoder implements Transcoder.
var _ Transcoder = (*FFmpegTranscoder)(nil)

// NewFFmpegTranscoder creates a new FFmpeg-based transcoder.
func NewFFmpegTranscoder(cfg FFmpegConfig) *FFmpegTranscoder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := cfg.Runner
	if runner == nil {
		runner = cfg.Engine.FFmpegRunner(logger)
	}
	prober := cfg.Prober
	if prober == nil {
		prober = encoder.NewProber(runner, logger)
	}
	arch := cfg.Arch
	if arch == "" {
		arch = runtime.GOARCH
	}

	return &FFmpegTranscoder{
		engine: cfg.Engine,
		ffmpeg: runner,
		prober: prober,
		arch:   arch,
		logger: logger.With(slog.String("component", "transcoder")),
	}
}

// Convert runs the conversion in its own goroutine and streams its events.
func (t *FFmpegTranscoder) Convert(ctx context.Context, inputPath, outputDir string, opts model.ConversionOptions, excluded []model.Rendition) <-chan Event {
	em, events := eventstream.New[Event](ctx, eventstream.DefaultBuffer)

	go func() {
		result, err := t.convert(ctx, inputPath, outputDir, opts, excluded, em)
		if err != nil {
			t.logger.Error("conversion failed",
				slog.String("input", inputPath),
				slog.String("error_kind", model.ErrorKind(err)),
				slog.String("error", err.Error()),
			)
			em.Finish(Event{Kind: EventFailed, Err: err})
			return
		}
		em.Finish(result)
	}()

	return events
}

func (t *FFmpegTranscoder) convert(ctx context.Context, inputPath, outputDir string, opts model.ConversionOptions, excluded []model.Rendition, em *eventstream.Emitter[Event]) (Event, error) {
	if !t.engine.Available() {
		return Event{}, fmt.Errorf("%w: ffmpeg is not installed", model.ErrEngineNotFound)
	}
	if err := t.validateInput(inputPath); err != nil {
		return Event{}, err
	}
	if err := t.validateOutputDir(outputDir); err != nil {
		return Event{}, err
	}

	src, err := toolchain.ProbeSource(ctx, t.ffmpeg, inputPath)
	if err != nil {
		return Event{}, fmt.Errorf("probe source: %w", err)
	}

	planned, err := rendition.Plan(src.Width, src.Height, excluded)
	if err != nil {
		return Event{}, err
	}

	enc := encoder.SelectFor(t.arch, opts.Encoder, opts.VideoCodec, func(e model.Encoder) bool {
		return t.prober.Supported(ctx, e)
	})
	if ctx.Err() != nil {
		return Event{}, model.Cancelled(ctx)
	}

	t.logger.Info("conversion started",
		slog.String("input", inputPath),
		slog.String("encoder", enc.String()),
		slog.Int("renditions", len(planned)),
		slog.Float64("duration_seconds", src.Duration),
	)
	em.Send(Event{Kind: EventStarted, Encoder: enc, Renditions: planned, Source: src})

	// Renditions run one at a time; they compete for the same encoder resources.
	for _, r := range planned {
		if ctx.Err() != nil {
			return Event{}, model.Cancelled(ctx)
		}
		if err := t.transcodeRendition(ctx, inputPath, outputDir, r, enc, opts, src.Duration, em); err != nil {
			return Event{}, fmt.Errorf("transcode rendition %s: %w", r.Label(), err)
		}
		em.Send(Event{Kind: EventRenditionCompleted, Rendition: r, Encoder: enc, Fraction: 1})
	}

	if ctx.Err() != nil {
		return Event{}, model.Cancelled(ctx)
	}

	masterPath, err := playlist.WriteMaster(outputDir, planned)
	if err != nil {
		return Event{}, err
	}

	t.logger.Info("conversion completed",
		slog.String("input", inputPath),
		slog.String("master_playlist", masterPath),
	)
	return Event{
		Kind:           EventCompleted,
		Encoder:        enc,
		Renditions:     planned,
		Source:         src,
		MasterPlaylist: masterPath,
	}, nil
}

// transcodeRendition runs one ffmpeg process and relays its output as events.
func (t *FFmpegTranscoder) transcodeRendition(ctx context.Context, inputPath, outputDir string, r model.Rendition, enc model.Encoder, opts model.ConversionOptions, duration float64, em *eventstream.Emitter[Event]) error {
	args := t.buildRenditionArgs(inputPath, outputDir, r, enc, opts)
	progress := newProgressTracker(duration)

	return t.ffmpeg.Run(ctx, args, func(line string) {
		if elapsed, ok := toolchain.ParseElapsed(line); ok {
			if fraction, ok := progress.update(elapsed); ok {
				em.Send(Event{Kind: EventProgress, Rendition: r, Fraction: fraction})
			}
		}
		em.Send(Event{Kind: EventOutput, Rendition: r, Line: line})
	})
}

// validateInput checks if the input file exists and is readable.
func (t *FFmpegTranscoder) validateInput(inputPath string) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: input file does not exist: %s", model.ErrInvalidSourceMetadata, inputPath)
		}
		return fmt.Errorf("failed to access input file: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("%w: input path is a directory, expected a file: %s", model.ErrInvalidSourceMetadata, inputPath)
	}

	return nil
}

// validateOutputDir checks if the output directory exists.
func (t *FFmpegTranscoder) validateOutputDir(outputDir string) error {
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", outputDir)
		}
		return fmt.Errorf("failed to access output directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", outputDir)
	}

	return nil
}

// buildRenditionArgs constructs the ffmpeg arguments for one rendition.
// Rate control uses a maxrate/bufsize pair on top of CRF; no flat -b:v is set.
func (t *FFmpegTranscoder) buildRenditionArgs(inputPath, outputDir string, r model.Rendition, enc model.Encoder, opts model.ConversionOptions) []string {
	scaleFilter := fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease", r.Width, r.Height)

	return []string{
		"-i", inputPath,
		"-c:v", enc.String(),
		"-preset", string(opts.SpeedPreset),
		"-g", strconv.Itoa(gopSize),
		"-keyint_min", strconv.Itoa(gopSize),
		"-sc_threshold", "0",
		"-maxrate", fmt.Sprintf("%dk", r.BitrateKbps),
		"-bufsize", fmt.Sprintf("%dk", 2*r.BitrateKbps),
		"-vf", scaleFilter,
		"-crf", strconv.Itoa(opts.CRF()),
		"-c:a", string(opts.AudioCodec),
		"-b:a", string(opts.AudioBitrate),
		"-f", "hls",
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-hls_time", strconv.Itoa(opts.TargetDuration),
		"-start_number", strconv.Itoa(opts.StartNumber),
		"-hls_list_size", "0", // Include all segments in playlist
		"-movflags", "+faststart",
		"-hls_segment_filename", filepath.Join(outputDir, r.SegmentPattern()),
		"-y", // Overwrite output files without asking
		filepath.Join(outputDir, r.VariantPlaylist()),
	}
}
