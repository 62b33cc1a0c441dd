package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

// writeScript creates an executable shell script standing in for a toolchain binary.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExec_StreamsCarriageReturnLines(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "ffmpeg", `printf 'frame=1 time=00:00:01.00\rframe=2 time=00:00:02.00\r'; echo "done" >&2`)

	lines, err := Collect(context.Background(), NewExec(bin, nil), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"frame=1 time=00:00:01.00",
		"frame=2 time=00:00:02.00",
		"done",
	}, lines)
}

func TestExec_PassesArguments(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "ffmpeg", `for a in "$@"; do echo "$a"; done`)

	lines, err := Collect(context.Background(), NewExec(bin, nil), []string{"-i", "my file.mp4", "-f", "null"})

	require.NoError(t, err)
	assert.Equal(t, []string{"-i", "my file.mp4", "-f", "null"}, lines)
}

func TestExec_NonZeroExit(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "ffmpeg", `echo "Input #0"; echo "Unknown encoder 'nope'" >&2; exit 3`)

	err := NewExec(bin, nil).Run(context.Background(), []string{"-c:v", "nope"}, nil)

	require.ErrorIs(t, err, model.ErrSubprocessFailed)
	var subErr *model.SubprocessError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, 3, subErr.ExitCode)
	assert.Equal(t, []string{"-c:v", "nope"}, subErr.Args)
	assert.Contains(t, subErr.Diagnostic(), "Unknown encoder 'nope'")
	assert.Contains(t, err.Error(), "Unknown encoder 'nope'")
}

func TestExec_KeepsOutputTail(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "ffmpeg", `i=0; while [ $i -lt 50 ]; do echo "line $i"; i=$((i+1)); done; exit 1`)

	err := NewExec(bin, nil).Run(context.Background(), nil, nil)

	var subErr *model.SubprocessError
	require.ErrorAs(t, err, &subErr)
	require.Len(t, subErr.Output, defaultTailLines)
	assert.Equal(t, "line 30", subErr.Output[0])
	assert.Equal(t, "line 49", subErr.Output[defaultTailLines-1])
}

func TestExec_CancelKillsProcess(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	bin := writeScript(t, dir, "ffmpeg", `echo $$ > `+pidFile+`; echo started; exec sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	err := NewExec(bin, nil).Run(ctx, nil, func(line string) {
		if line == "started" {
			cancel()
		}
	})

	require.ErrorIs(t, err, model.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)

	pid, readErr := os.ReadFile(pidFile)
	require.NoError(t, readErr)
	_, statErr := os.Stat(filepath.Join("/proc", strings.TrimSpace(string(pid))))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "process should be gone after Run returns")
}

func TestExec_AlreadyCancelled(t *testing.T) {
	bin := writeScript(t, t.TempDir(), "ffmpeg", `echo should-not-run`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewExec(bin, nil).Run(ctx, nil, func(string) { called = true })

	require.ErrorIs(t, err, model.ErrCancelled)
	assert.False(t, called)
}

func TestExec_MissingBinary(t *testing.T) {
	err := NewExec(filepath.Join(t.TempDir(), "ffmpeg"), nil).Run(context.Background(), nil, nil)

	require.ErrorIs(t, err, model.ErrEngineNotFound)
}

func TestScanLinesWithCR(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		atEOF   bool
		advance int
		token   string
	}{
		{"newline", "abc\ndef", false, 4, "abc"},
		{"carriage return", "abc\rdef", false, 4, "abc"},
		{"collapses CRLF", "abc\r\ndef", false, 5, "abc"},
		{"partial line waits", "abc", false, 0, ""},
		{"partial line at EOF", "abc", true, 3, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advance, token, err := scanLinesWithCR([]byte(tt.data), tt.atEOF)
			require.NoError(t, err)
			assert.Equal(t, tt.advance, advance)
			assert.Equal(t, tt.token, string(token))
		})
	}
}
