package main

import (
	"fmt"

	"github.com/gookit/color"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/encoder"
)

type EncodersCmd struct{}

func (c *EncodersCmd) Run(e *env) error {
	engine, err := e.engine()
	if err != nil {
		return err
	}
	version := "unknown"
	if engine.Version != nil {
		version = engine.Version.String()
	}
	printStatus(color.Cyan, "ffmpeg", fmt.Sprintf("%s (%s)", engine.FFmpeg, version))

	prober := encoder.NewProber(engine.FFmpegRunner(e.logger), e.logger)
	supported := prober.Supports(e.ctx)
	for _, enc := range model.KnownEncoders() {
		kind := "software"
		if enc.Hardware() {
			kind = "hardware"
		}
		if supported[enc] {
			printStatus(color.Green, "available", fmt.Sprintf("%s (%s)", enc, kind))
		} else {
			printStatus(color.Gray, "missing", fmt.Sprintf("%s (%s)", enc, kind))
		}
	}

	probe := func(enc model.Encoder) bool { return supported[enc] }
	for _, family := range []model.VideoCodec{model.VideoCodecH264, model.VideoCodecH265} {
		printStatus(color.Bold, "selected", fmt.Sprintf("%s -> %s", family, encoder.SelectFor(e.arch(), "", family, probe)))
	}
	return nil
}
