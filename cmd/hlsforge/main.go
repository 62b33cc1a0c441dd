// Command hlsforge converts local video files to HLS without the API stack.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/gookit/color"

	"github.com/hszk-dev/hlsforge/internal/toolchain"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Verbose    bool             `short:"v" help:"Log subprocess command lines and encoder output."`
	NoColor    bool             `help:"Disable colored output." env:"NO_COLOR"`
	SearchDirs []string         `help:"Directories searched for ffmpeg and ffprobe before PATH." sep:"," env:"TOOLCHAIN_SEARCH_DIRS"`
	Arch       string           `help:"Override the CPU architecture used for hardware encoder selection." env:"TOOLCHAIN_ARCH"`
	Version    kong.VersionFlag `help:"Print version and exit."`
}

// env is bound into every command's Run.
type env struct {
	*Globals
	ctx    context.Context
	logger *slog.Logger
}

// engine resolves the toolchain or fails with model.ErrEngineNotFound.
func (e *env) engine() (toolchain.Engine, error) {
	return toolchain.Resolve(e.ctx, e.SearchDirs, e.logger)
}

func (e *env) arch() string {
	if e.Arch != "" {
		return e.Arch
	}
	return runtime.GOARCH
}

type CLI struct {
	Globals

	Convert  ConvertCmd  `cmd:"" help:"Convert a video file into an HLS rendition set."`
	Probe    ProbeCmd    `cmd:"" help:"Show source metadata and the renditions that would be produced."`
	Encoders EncodersCmd `cmd:"" help:"List video encoders and whether they work on this machine."`
	Cleanup  CleanupCmd  `cmd:"" help:"Remove the contents of an output directory."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("hlsforge"),
		kong.Description("Convert video files to adaptive HLS with ffmpeg."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	if cli.NoColor {
		color.Enable = false
	}

	level := slog.LevelWarn
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := kctx.Run(&env{Globals: &cli.Globals, ctx: ctx, logger: logger})
	stop()
	kctx.FatalIfErrorf(err)
}
