// Package toolchaintest provides a scripted toolchain.Runner for tests.
package toolchaintest

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
)

// HandlerFunc answers one invocation. Returning nil means exit code 0.
type HandlerFunc func(ctx context.Context, args []string, onLine toolchain.LineFunc) error

// Runner records invocations and delegates them to Handler.
type Runner struct {
	Handler HandlerFunc

	mu    sync.Mutex
	calls [][]string
}

var _ toolchain.Runner = (*Runner)(nil)

func (r *Runner) Run(ctx context.Context, args []string, onLine toolchain.LineFunc) error {
	if ctx.Err() != nil {
		return model.Cancelled(ctx)
	}

	r.mu.Lock()
	r.calls = append(r.calls, slices.Clone(args))
	r.mu.Unlock()

	if onLine == nil {
		onLine = func(string) {}
	}
	if r.Handler == nil {
		return nil
	}
	return r.Handler(ctx, args, onLine)
}

// Calls returns a copy of every argument list received so far.
func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Emit writes lines and succeeds.
func Emit(lines ...string) HandlerFunc {
	return func(_ context.Context, _ []string, onLine toolchain.LineFunc) error {
		for _, l := range lines {
			onLine(l)
		}
		return nil
	}
}

// Fail writes lines and exits with code 1.
func Fail(lines ...string) HandlerFunc {
	return func(_ context.Context, args []string, onLine toolchain.LineFunc) error {
		for _, l := range lines {
			onLine(l)
		}
		return &model.SubprocessError{Program: "ffmpeg", Args: args, ExitCode: 1, Output: lines}
	}
}

// BlockUntilCancelled emits lines and then waits for ctx, as a long encode would.
func BlockUntilCancelled(lines ...string) HandlerFunc {
	return func(ctx context.Context, _ []string, onLine toolchain.LineFunc) error {
		for _, l := range lines {
			onLine(l)
		}
		<-ctx.Done()
		return model.Cancelled(ctx)
	}
}

// Touch creates the file named by the last argument, mimicking a successful write.
func Touch(content string) HandlerFunc {
	return func(_ context.Context, args []string, _ toolchain.LineFunc) error {
		if len(args) == 0 {
			return nil
		}
		return WriteFile(args[len(args)-1], content)
	}
}

// WriteFile creates path and its parent directories.
func WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// ArgAfter returns the argument following flag, or "".
func ArgAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// HasArg reports whether args contains flag.
func HasArg(args []string, flag string) bool {
	return slices.Contains(args, flag)
}
