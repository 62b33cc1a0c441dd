package thumbnail

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/eventstream"
	"github.com/hszk-dev/hlsforge/internal/playlist"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
)

// Generator extracts frames with ffmpeg and tiles them into a sprite sheet.
type Generator struct {
	ffmpeg     toolchain.Runner
	logger     *slog.Logger
	scratchDir string
}

// Option configures a Generator.
type Option func(*Generator)

// WithScratchDir sets the parent directory for per-invocation frame staging.
// Defaults to os.TempDir().
func WithScratchDir(dir string) Option {
	return func(g *Generator) {
		g.scratchDir = dir
	}
}

// NewGenerator creates a Generator running ffmpeg through runner.
func NewGenerator(ffmpeg toolchain.Runner, logger *slog.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		ffmpeg: ffmpeg,
		logger: logger.With(slog.String("component", "thumbnail")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate writes thumbnails.<ext> and thumbnails.vtt into outputDir.
//
// The returned channel is closed after exactly one terminal event. Frames are
// staged in a private scratch directory that is removed before the terminal
// event is sent, whatever the outcome.
func (g *Generator) Generate(ctx context.Context, inputPath, outputDir string, opts model.ThumbnailOptions, duration float64, sourceWidth, sourceHeight int) <-chan Event {
	em, events := eventstream.New[Event](ctx, eventstream.DefaultBuffer)

	go func() {
		result, err := g.generate(ctx, inputPath, outputDir, opts, duration, sourceWidth, sourceHeight, em)
		if err != nil {
			g.logger.Error("thumbnail generation failed",
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

func (g *Generator) generate(ctx context.Context, inputPath, outputDir string, opts model.ThumbnailOptions, duration float64, sourceWidth, sourceHeight int, em *eventstream.Emitter[Event]) (Event, error) {
	em.Send(Event{Kind: EventStarted})

	layout, err := ComputeLayout(opts, duration, sourceWidth, sourceHeight)
	if err != nil {
		return Event{}, err
	}

	scratch, err := os.MkdirTemp(g.scratchDir, "hlsforge-thumbs-")
	if err != nil {
		return Event{}, fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			g.logger.Warn("failed to remove scratch directory",
				slog.String("path", scratch),
				slog.String("error", err.Error()),
			)
		}
	}()

	ext := opts.Format.Extension()

	for i := 0; i < layout.Frames; i++ {
		if ctx.Err() != nil {
			return Event{}, model.Cancelled(ctx)
		}
		em.Send(Event{Kind: EventExtractingFrames, Current: i + 1, Total: layout.Frames})

		framePath := filepath.Join(scratch, fmt.Sprintf("thumb_%04d.%s", i, ext))
		start, _ := layout.Cue(i)
		if err := g.ffmpeg.Run(ctx, frameArgs(inputPath, framePath, start, layout, opts.Format), nil); err != nil {
			return Event{}, fmt.Errorf("extract frame %d: %w", i, err)
		}
	}

	if ctx.Err() != nil {
		return Event{}, model.Cancelled(ctx)
	}
	em.Send(Event{Kind: EventAssemblingSprite})

	spriteName := SpriteBaseName + "." + ext
	spritePath := filepath.Join(outputDir, spriteName)
	framePattern := filepath.Join(scratch, "thumb_%04d."+ext)
	if err := g.ffmpeg.Run(ctx, spriteArgs(framePattern, spritePath, layout, opts.Format), nil); err != nil {
		return Event{}, fmt.Errorf("assemble sprite: %w", err)
	}

	if ctx.Err() != nil {
		return Event{}, model.Cancelled(ctx)
	}
	em.Send(Event{Kind: EventWritingVTT})

	vttPath := filepath.Join(outputDir, VTTName)
	if err := playlist.WriteFileAtomic(vttPath, []byte(BuildVTT(layout, spriteName)), 0o644); err != nil {
		return Event{}, fmt.Errorf("write %s: %w", VTTName, err)
	}

	g.logger.Info("thumbnails generated",
		slog.String("sprite", spritePath),
		slog.Int("frames", layout.Frames),
		slog.Int("columns", layout.Columns),
		slog.Int("rows", layout.Rows),
	)
	return Event{Kind: EventCompleted, SpritePath: spritePath, VTTPath: vttPath}, nil
}

func frameArgs(inputPath, framePath string, seek float64, l Layout, format model.ImageFormat) []string {
	args := []string{
		"-ss", fmt.Sprintf("%.3f", seek),
		"-i", inputPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", l.Width, l.Height),
	}
	args = append(args, format.QualityArgs()...)
	return append(args, "-y", framePath)
}

func spriteArgs(framePattern, spritePath string, l Layout, format model.ImageFormat) []string {
	args := []string{
		"-i", framePattern,
		"-filter_complex", fmt.Sprintf("tile=%dx%d", l.Columns, l.Rows),
	}
	args = append(args, format.QualityArgs()...)
	return append(args, "-y", spritePath)
}
