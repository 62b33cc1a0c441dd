package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/color"
	"golang.org/x/time/rate"

	"github.com/hszk-dev/hlsforge/internal/config"
	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/pipeline"
	"github.com/hszk-dev/hlsforge/internal/subtitle"
	"github.com/hszk-dev/hlsforge/internal/thumbnail"
	"github.com/hszk-dev/hlsforge/internal/transcoder"
)

type ConvertCmd struct {
	Input  string `arg:"" type:"existingfile" help:"Source video file."`
	Output string `short:"o" required:"" type:"path" help:"Output directory. Created when missing."`

	Profile      string   `short:"p" type:"existingfile" help:"YAML conversion profile applied before the flags below."`
	Codec        string   `help:"Video codec family (h264, h265)."`
	Encoder      string   `help:"Force an ffmpeg video encoder instead of auto-selecting one."`
	Speed        string   `help:"Encoder speed preset (ultrafast ... veryslow)."`
	Quality      string   `help:"Quality preset (high, balanced, efficient)."`
	AudioCodec   string   `help:"Audio codec (aac, libopus, libmp3lame)."`
	AudioBitrate string   `help:"Audio bitrate (96k ... 320k)."`
	Exclude      []string `short:"x" sep:"," help:"Rendition labels to skip, e.g. 2160p,1440p."`

	Thumbnails        bool    `help:"Generate a thumbnail sprite sheet and WebVTT track."`
	ThumbnailInterval float64 `help:"Seconds between thumbnails."`
	ThumbnailFormat   string  `help:"Sprite image format (jpeg, webp)."`

	Subtitles bool     `help:"Extract embedded subtitle tracks."`
	Subtitle  []string `help:"External subtitle as path:language. Repeatable."`

	Sequential bool `help:"Run thumbnails and subtitles after the video encode instead of alongside it."`
	Clean      bool `help:"Empty the output directory before converting."`
	Quiet      bool `short:"q" help:"Only print the final summary."`
}

func (c *ConvertCmd) Run(e *env) error {
	opts, excluded, err := c.options()
	if err != nil {
		return err
	}

	input, err := filepath.Abs(c.Input)
	if err != nil {
		return err
	}
	output, err := filepath.Abs(c.Output)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if c.Clean {
		removed := transcoder.Cleanup(e.logger, output)
		printStatus(color.Gray, "cleaned", fmt.Sprintf("%d entries from %s", removed, output))
	}

	engine, err := e.engine()
	if err != nil {
		return err
	}
	ffmpeg := engine.FFmpegRunner(e.logger)
	scratch, err := os.MkdirTemp("", "hlsforge-frames-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	runner := pipeline.NewRunner(
		transcoder.NewFFmpegTranscoder(transcoder.FFmpegConfig{
			Engine: engine,
			Runner: ffmpeg,
			Arch:   e.Arch,
			Logger: e.logger,
		}),
		thumbnail.NewGenerator(ffmpeg, e.logger, thumbnail.WithScratchDir(scratch)),
		subtitle.NewProcessor(ffmpeg, engine.FFprobeRunner(e.logger), e.logger),
		e.logger,
	)

	start := time.Now()
	r := newRenderer(c.Quiet)
	var final pipeline.Event
	for ev := range runner.Run(e.ctx, pipeline.Request{
		InputPath: input,
		OutputDir: output,
		Options:   opts,
		Excluded:  excluded,
	}) {
		if ev.Terminal() {
			final = ev
			continue
		}
		r.render(ev)
	}

	printSummary(final, output, time.Since(start))
	if final.Kind != pipeline.EventCompleted {
		if final.Err != nil {
			return final.Err
		}
		return errors.New("conversion did not complete")
	}
	return nil
}

// options merges the profile, then the flags, over the defaults.
func (c *ConvertCmd) options() (model.ConversionOptions, []model.Rendition, error) {
	opts := model.DefaultConversionOptions()
	var excluded []model.Rendition
	if c.Profile != "" {
		p, err := config.LoadProfile(c.Profile)
		if err != nil {
			return opts, nil, err
		}
		opts, excluded = p.Options, p.Exclude
	}

	setIf(&opts.VideoCodec, c.Codec)
	setIf(&opts.Encoder, c.Encoder)
	setIf(&opts.SpeedPreset, c.Speed)
	setIf(&opts.QualityPreset, c.Quality)
	setIf(&opts.AudioCodec, c.AudioCodec)
	setIf(&opts.AudioBitrate, c.AudioBitrate)

	if len(c.Exclude) > 0 {
		ex, err := model.ParseRenditions(c.Exclude)
		if err != nil {
			return opts, nil, err
		}
		excluded = ex
	}

	if c.Thumbnails || c.ThumbnailInterval > 0 || c.ThumbnailFormat != "" {
		if opts.Thumbnails == nil {
			t := model.DefaultThumbnailOptions()
			opts.Thumbnails = &t
		}
		if c.ThumbnailInterval > 0 {
			opts.Thumbnails.Interval = c.ThumbnailInterval
		}
		setIf(&opts.Thumbnails.Format, c.ThumbnailFormat)
	}

	if c.Subtitles || len(c.Subtitle) > 0 {
		if opts.Subtitles == nil {
			s := model.DefaultSubtitleOptions()
			opts.Subtitles = &s
		}
		opts.Subtitles.ExtractEmbedded = opts.Subtitles.ExtractEmbedded || c.Subtitles
		for _, spec := range c.Subtitle {
			ext, err := parseExternalSubtitle(spec)
			if err != nil {
				return opts, nil, err
			}
			opts.Subtitles.External = append(opts.Subtitles.External, ext)
		}
	}

	if c.Sequential {
		if opts.Thumbnails != nil {
			opts.Thumbnails.Concurrent = false
		}
		if opts.Subtitles != nil {
			opts.Subtitles.Concurrent = false
		}
	}

	if err := opts.Validate(); err != nil {
		return opts, nil, err
	}
	return opts, excluded, nil
}

func setIf[T ~string](dst *T, value string) {
	if value != "" {
		*dst = T(value)
	}
}

// parseExternalSubtitle splits "path:lang". The language is the part after
// the last colon so paths containing colons still parse.
func parseExternalSubtitle(spec string) (model.ExternalSubtitle, error) {
	i := strings.LastIndex(spec, ":")
	if i <= 0 || i == len(spec)-1 {
		return model.ExternalSubtitle{}, fmt.Errorf("%w: subtitle %q must be path:language", model.ErrInvalidOptions, spec)
	}
	path, err := filepath.Abs(spec[:i])
	if err != nil {
		return model.ExternalSubtitle{}, err
	}
	return model.ExternalSubtitle{Path: path, Language: spec[i+1:]}, nil
}

// renderer prints pipeline events as colored status lines, throttling
// progress lines and passing milestones through.
type renderer struct {
	quiet    bool
	progress rate.Sometimes
}

func newRenderer(quiet bool) *renderer {
	return &renderer{quiet: quiet, progress: rate.Sometimes{Interval: time.Second}}
}

func (r *renderer) render(ev pipeline.Event) {
	if r.quiet {
		return
	}
	pct := fmt.Sprintf("%5.1f%%", ev.Progress*100)

	switch ev.Kind {
	case pipeline.EventVideo:
		v := ev.Video
		switch v.Kind {
		case transcoder.EventStarted:
			labels := make([]string, 0, len(v.Renditions))
			for _, rd := range v.Renditions {
				labels = append(labels, rd.Label())
			}
			printStatus(color.Cyan, "video", fmt.Sprintf("%dx%d %.1fs, encoding %s with %s",
				v.Source.Width, v.Source.Height, v.Source.Duration, strings.Join(labels, ","), v.Encoder))
		case transcoder.EventProgress:
			r.progress.Do(func() {
				printStatus(color.Gray, pct, fmt.Sprintf("video %s", v.Rendition.Label()))
			})
		case transcoder.EventRenditionCompleted:
			printStatus(color.Green, pct, fmt.Sprintf("rendition %s done", v.Rendition.Label()))
		case transcoder.EventOutput:
			slog.Debug("encoder output", slog.String("line", v.Line))
		}
	case pipeline.EventThumbnail:
		t := ev.Thumbnail
		if t.Kind == thumbnail.EventExtractingFrames {
			r.progress.Do(func() {
				printStatus(color.Gray, pct, fmt.Sprintf("thumbnail %d/%d", t.Current, t.Total))
			})
			return
		}
		printStatus(color.Cyan, "thumbnails", t.Kind.String())
	case pipeline.EventSubtitle:
		printStatus(color.Cyan, "subtitles", ev.Subtitle.Kind.String())
	case pipeline.EventStageSkipped:
		printStatus(color.Yellow, "skipped", fmt.Sprintf("%s: %v", ev.Stage, ev.Err))
	}
}
