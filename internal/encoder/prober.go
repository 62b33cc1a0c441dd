package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
)

const listKey = "\x00encoders"

// Prober checks encoder support with a two-stage test: the encoder must be
// advertised by `ffmpeg -encoders` and must encode one synthetic frame.
// Results are memoized for the lifetime of the Prober and concurrent probes
// of the same encoder share one subprocess.
type Prober struct {
	ffmpeg toolchain.Runner
	logger *slog.Logger

	group singleflight.Group

	mu         sync.Mutex
	advertised map[model.Encoder]bool
	results    map[model.Encoder]bool
}

// NewProber creates a Prober that invokes ffmpeg through runner.
func NewProber(ffmpeg toolchain.Runner, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		ffmpeg:  ffmpeg,
		logger:  logger,
		results: make(map[model.Encoder]bool),
	}
}

// Func adapts the Prober to Select's probe argument.
func (p *Prober) Func(ctx context.Context) ProbeFunc {
	return func(enc model.Encoder) bool {
		return p.Supported(ctx, enc)
	}
}

// Supported reports whether enc passed both probe stages. Errors are never
// returned; any failure means "not supported".
func (p *Prober) Supported(ctx context.Context, enc model.Encoder) bool {
	p.mu.Lock()
	ok, cached := p.results[enc]
	p.mu.Unlock()
	if cached {
		return ok
	}

	v, _, _ := p.group.Do(string(enc), func() (any, error) {
		supported := p.probe(ctx, enc)
		if ctx.Err() == nil {
			p.mu.Lock()
			p.results[enc] = supported
			p.mu.Unlock()
		}
		return supported, nil
	})
	return v.(bool)
}

// Supports returns the support status of every known encoder.
func (p *Prober) Supports(ctx context.Context) map[model.Encoder]bool {
	out := make(map[model.Encoder]bool)
	for _, enc := range model.KnownEncoders() {
		out[enc] = p.Supported(ctx, enc)
	}
	return out
}

func (p *Prober) probe(ctx context.Context, enc model.Encoder) bool {
	listed, err := p.advertisedEncoders(ctx)
	if err != nil {
		p.logger.Debug("encoder list unavailable",
			slog.String("encoder", enc.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !listed[enc] {
		p.logger.Debug("encoder not advertised", slog.String("encoder", enc.String()))
		return false
	}

	if err := p.ffmpeg.Run(ctx, FunctionalTestArgs(enc), nil); err != nil {
		p.logger.Debug("encoder failed functional test",
			slog.String("encoder", enc.String()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (p *Prober) advertisedEncoders(ctx context.Context) (map[model.Encoder]bool, error) {
	p.mu.Lock()
	listed := p.advertised
	p.mu.Unlock()
	if listed != nil {
		return listed, nil
	}

	v, err, _ := p.group.Do(listKey, func() (any, error) {
		lines, err := toolchain.Collect(ctx, p.ffmpeg, []string{"-hide_banner", "-encoders"})
		if err != nil {
			return nil, fmt.Errorf("list encoders: %w", err)
		}
		set := ParseEncoderList(lines)
		p.mu.Lock()
		p.advertised = set
		p.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[model.Encoder]bool), nil
}

// FunctionalTestArgs encodes a single 16x16 black frame to the null muxer.
func FunctionalTestArgs(enc model.Encoder) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "lavfi",
		"-i", "color=c=black:s=16x16:d=0.1",
		"-frames:v", "1",
		"-c:v", enc.String(),
		"-f", "null",
		"-",
	}
}

// ParseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Entries look like " V....D libx264   libx264 H.264 / AVC ...".
func ParseEncoderList(lines []string) map[model.Encoder]bool {
	set := make(map[model.Encoder]bool)
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 || fields[1] == "=" {
			continue
		}
		set[model.Encoder(fields[1])] = true
	}
	return set
}
