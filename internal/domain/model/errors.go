package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Conversion pipeline errors.
var (
	ErrEngineNotFound         = errors.New("encoding engine not found")
	ErrInvalidSourceMetadata  = errors.New("invalid source metadata")
	ErrInsufficientDuration   = errors.New("source is shorter than the thumbnail interval")
	ErrSubprocessFailed       = errors.New("subprocess execution failed")
	ErrCancelled              = errors.New("conversion cancelled")
	ErrTimedOut               = errors.New("conversion timed out")
	ErrNoEligibleRendition    = errors.New("no eligible rendition for source resolution")
	ErrPlaylistAssemblyFailed = errors.New("playlist assembly failed")
	ErrInvalidOptions         = errors.New("invalid conversion options")
)

// SubprocessError describes a toolchain invocation that exited unsuccessfully.
type SubprocessError struct {
	Program  string
	Args     []string
	ExitCode int
	// Output holds the last lines the process wrote to stdout/stderr.
	Output []string
	Err    error
}

func (e *SubprocessError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", filepath.Base(e.Program), e.ExitCode)
	for i := len(e.Output) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(e.Output[i]); line != "" {
			return msg + ": " + line
		}
	}
	return msg
}

func (e *SubprocessError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubprocessFailed}
	}
	return []error{ErrSubprocessFailed, e.Err}
}

// Diagnostic returns the captured output joined by newlines.
func (e *SubprocessError) Diagnostic() string {
	return strings.Join(e.Output, "\n")
}

// Cancelled wraps the context error so both ErrCancelled and the context cause
// match. An expired deadline is wrapped in ErrTimedOut instead.
func Cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimedOut, cause)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// Interrupted reports whether err stems from a cancelled or expired context.
func Interrupted(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrTimedOut)
}

// Error kinds reported in logs, metrics and API responses.
const (
	KindEngineNotFound         = "engine_not_found"
	KindInvalidSourceMetadata  = "invalid_source_metadata"
	KindInsufficientDuration   = "insufficient_duration"
	KindSubprocessFailed       = "subprocess_failed"
	KindCancelled              = "cancelled"
	KindTimeout                = "timeout"
	KindNoEligibleRendition    = "no_eligible_rendition"
	KindPlaylistAssemblyFailed = "playlist_assembly_failed"
	KindInvalidOptions         = "invalid_options"
	KindInternal               = "internal"
)

// ErrorKind classifies err into one of the Kind constants.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrEngineNotFound):
		return KindEngineNotFound
	case errors.Is(err, ErrInvalidSourceMetadata):
		return KindInvalidSourceMetadata
	case errors.Is(err, ErrInsufficientDuration):
		return KindInsufficientDuration
	case errors.Is(err, ErrSubprocessFailed):
		return KindSubprocessFailed
	case errors.Is(err, ErrNoEligibleRendition):
		return KindNoEligibleRendition
	case errors.Is(err, ErrPlaylistAssemblyFailed):
		return KindPlaylistAssemblyFailed
	case errors.Is(err, ErrInvalidOptions):
		return KindInvalidOptions
	default:
		return KindInternal
	}
}
