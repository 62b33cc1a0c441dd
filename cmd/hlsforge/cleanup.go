package main

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/gookit/color"

	"github.com/hszk-dev/hlsforge/internal/transcoder"
)

type CleanupCmd struct {
	OutputDir string `arg:"" type:"existingdir" help:"Output directory to empty."`
}

func (c *CleanupCmd) Run(e *env) error {
	files, size, err := dirSize(c.OutputDir)
	if err != nil {
		return err
	}
	removed := transcoder.Cleanup(e.logger, c.OutputDir)
	printStatus(color.Green, "cleaned", fmt.Sprintf("%d entries, %d files, %s", removed, files, bytefmt.ByteSize(size)))
	return nil
}
