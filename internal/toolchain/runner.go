// Package toolchain runs the external ffmpeg/ffprobe executables and
// interprets their textual output.
package toolchain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

// LineFunc receives each line written by a subprocess, in order.
type LineFunc func(line string)

// Runner executes one toolchain binary with an argument list and streams its
// combined stdout/stderr line by line.
type Runner interface {
	// Run blocks until the process exits. A non-zero exit returns a
	// *model.SubprocessError; a cancelled ctx kills the process and returns
	// an error matching model.ErrCancelled, or model.ErrTimedOut once its
	// deadline has passed.
	Run(ctx context.Context, args []string, onLine LineFunc) error
}

const (
	defaultTailLines = 20
	defaultWaitDelay = 5 * time.Second
	maxLineLength    = 1024 * 1024
)

// Exec is a Runner backed by os/exec.
type Exec struct {
	path      string
	logger    *slog.Logger
	tailLines int
	waitDelay time.Duration
}

// Compile-time verification that Exec implements Runner.
var _ Runner = (*Exec)(nil)

// NewExec creates a Runner for the binary at path.
func NewExec(path string, logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{
		path:      path,
		logger:    logger,
		tailLines: defaultTailLines,
		waitDelay: defaultWaitDelay,
	}
}

// Path returns the executable path.
func (e *Exec) Path() string {
	return e.path
}

func (e *Exec) Run(ctx context.Context, args []string, onLine LineFunc) error {
	if ctx.Err() != nil {
		return model.Cancelled(ctx)
	}

	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.WaitDelay = e.waitDelay

	// Both streams share one pipe so diagnostics and progress keep their
	// relative order and neither can fill up unread.
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	e.logger.Debug("starting subprocess",
		slog.String("command", shellquote.Join(append([]string{e.path}, args...)...)),
	)

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s", model.ErrEngineNotFound, e.path)
		}
		return &model.SubprocessError{Program: e.path, Args: args, ExitCode: -1, Err: err}
	}
	pw.Close()

	// Unblocks the scanner if a killed process leaves the pipe open.
	stop := context.AfterFunc(ctx, func() { pr.Close() })
	defer stop()

	tail := make([]string, 0, e.tailLines)
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	scanner.Split(scanLinesWithCR)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" {
			continue
		}
		if len(tail) == e.tailLines {
			tail = tail[1:]
		}
		tail = append(tail, line)
		if onLine != nil {
			onLine(line)
		}
	}
	if scanner.Err() != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, pr)
	}
	pr.Close()

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return model.Cancelled(ctx)
	}
	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &model.SubprocessError{
			Program:  e.path,
			Args:     args,
			ExitCode: exitCode,
			Output:   tail,
			Err:      waitErr,
		}
	}
	return nil
}

// scanLinesWithCR splits on both \r and \n. ffmpeg rewrites its status line
// with carriage returns, so \n alone would hold progress back until exit.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Collect runs args and returns every output line. Subprocess failures are
// returned together with the lines read so far.
func Collect(ctx context.Context, r Runner, args []string) ([]string, error) {
	var lines []string
	err := r.Run(ctx, args, func(line string) {
		lines = append(lines, line)
	})
	return lines, err
}
