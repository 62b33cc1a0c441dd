package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

// DefaultSearchDirs are the install locations checked before $PATH.
var DefaultSearchDirs = []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"}

// MinimumVersion is the oldest ffmpeg release whose HLS muxer supports
// independent_segments and the segment muxer's m3u8 list type.
var MinimumVersion = semver.MustParse("4.0.0")

var versionPattern = regexp.MustCompile(`ffmpeg version n?(\d+\.\d+(?:\.\d+)?)`)

// Engine is a resolved ffmpeg/ffprobe installation.
type Engine struct {
	FFmpeg  string
	FFprobe string
	// Version is nil when the build does not report a release number (e.g. git snapshots).
	Version *semver.Version
}

// Available reports whether both executables were resolved.
func (e Engine) Available() bool {
	return e.FFmpeg != "" && e.FFprobe != ""
}

// FFmpegRunner returns a Runner for the ffmpeg binary.
func (e Engine) FFmpegRunner(logger *slog.Logger) *Exec {
	return NewExec(e.FFmpeg, logger)
}

// FFprobeRunner returns a Runner for the ffprobe binary.
func (e Engine) FFprobeRunner(logger *slog.Logger) *Exec {
	return NewExec(e.FFprobe, logger)
}

// Resolve locates ffmpeg and ffprobe in dirs, falling back to $PATH, and
// checks the ffmpeg release against MinimumVersion.
func Resolve(ctx context.Context, dirs []string, logger *slog.Logger) (Engine, error) {
	if len(dirs) == 0 {
		dirs = DefaultSearchDirs
	}

	ffmpeg, err := lookup("ffmpeg", dirs)
	if err != nil {
		return Engine{}, err
	}
	ffprobe, err := lookup("ffprobe", dirs)
	if err != nil {
		return Engine{}, err
	}

	engine := Engine{FFmpeg: ffmpeg, FFprobe: ffprobe}

	lines, err := Collect(ctx, NewExec(ffmpeg, logger), []string{"-hide_banner", "-version"})
	if err != nil {
		return Engine{}, fmt.Errorf("query ffmpeg version: %w", err)
	}
	for _, line := range lines {
		if v := ParseVersion(line); v != nil {
			engine.Version = v
			break
		}
	}

	if engine.Version != nil && engine.Version.LessThan(MinimumVersion) {
		return Engine{}, fmt.Errorf("%w: ffmpeg %s is older than %s", model.ErrEngineNotFound, engine.Version, MinimumVersion)
	}

	return engine, nil
}

// ParseVersion extracts the release number from an `ffmpeg -version` banner line.
func ParseVersion(line string) *semver.Version {
	m := versionPattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return nil
	}
	return v
}

func lookup(name string, dirs []string) (string, error) {
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s not found in %v or $PATH", model.ErrEngineNotFound, name, dirs)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
