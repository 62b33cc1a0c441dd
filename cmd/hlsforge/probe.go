package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gookit/color"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/encoder"
	"github.com/hszk-dev/hlsforge/internal/rendition"
	"github.com/hszk-dev/hlsforge/internal/subtitle"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
)

type ProbeCmd struct {
	Input   string   `arg:"" type:"existingfile" help:"Source video file."`
	Codec   string   `default:"h264" help:"Codec family used to pick the encoder (h264, h265)."`
	Exclude []string `short:"x" sep:"," help:"Rendition labels to leave out of the plan."`
}

func (c *ProbeCmd) Run(e *env) error {
	input, err := filepath.Abs(c.Input)
	if err != nil {
		return err
	}
	excluded, err := model.ParseRenditions(c.Exclude)
	if err != nil {
		return err
	}

	engine, err := e.engine()
	if err != nil {
		return err
	}
	ffmpeg := engine.FFmpegRunner(e.logger)

	src, err := toolchain.ProbeSource(e.ctx, ffmpeg, input)
	if err != nil {
		return err
	}
	printStatus(color.Cyan, "source", fmt.Sprintf("%dx%d, %.2fs", src.Width, src.Height, src.Duration))

	plan, err := rendition.Plan(src.Width, src.Height, excluded)
	if err != nil {
		printStatus(color.Red, "plan", err.Error())
	} else {
		for _, r := range plan {
			printStatus(color.Green, r.Label(), fmt.Sprintf("%s %d kbps", r.Resolution(), r.BitrateKbps))
		}
	}

	prober := encoder.NewProber(ffmpeg, e.logger)
	enc := encoder.SelectFor(e.arch(), "", model.VideoCodec(c.Codec), prober.Func(e.ctx))
	printStatus(color.Cyan, "encoder", string(enc))

	streams, err := toolchain.ProbeSubtitles(e.ctx, engine.FFprobeRunner(e.logger), input)
	if err != nil {
		printStatus(color.Yellow, "subtitles", err.Error())
		return nil
	}
	tracks := subtitle.EmbeddedTracks(streams)
	keys := subtitle.FileKeys(tracks)
	for i, t := range tracks {
		desc := []string{t.Language, t.Codec}
		if t.Name != "" {
			desc = append(desc, t.Name)
		}
		printStatus(color.Gray, "subtitle", fmt.Sprintf("#%d %s -> %s", t.Index, strings.Join(desc, " "), subtitle.PlaylistName(keys[i])))
	}
	return nil
}
