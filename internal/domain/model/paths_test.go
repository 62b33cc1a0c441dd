package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPathRoots_Check(t *testing.T) {
	roots := PathRoots{Input: "/srv/media", Output: "/srv/hls"}

	withSubtitle := func(path string) ConversionOptions {
		opts := DefaultConversionOptions()
		opts.Subtitles = &SubtitleOptions{
			Enabled:  true,
			External: []ExternalSubtitle{{Path: path, Language: "en"}},
		}
		return opts
	}

	tests := []struct {
		name    string
		job     ConversionJob
		wantErr bool
	}{
		{
			name: "paths under roots",
			job:  ConversionJob{InputPath: "/srv/media/in.mp4", OutputDir: "/srv/hls/job1", Options: withSubtitle("/srv/media/en.srt")},
		},
		{
			name: "object key input skips the input check",
			job:  ConversionJob{InputKey: "uploads/in.mp4", OutputDir: "/srv/hls/job1"},
		},
		{
			name:    "filesystem root as output",
			job:     ConversionJob{InputPath: "/srv/media/in.mp4", OutputDir: "/"},
			wantErr: true,
		},
		{
			name:    "output root itself",
			job:     ConversionJob{InputPath: "/srv/media/in.mp4", OutputDir: "/srv/hls"},
			wantErr: true,
		},
		{
			name:    "output escaping through dot-dot",
			job:     ConversionJob{InputPath: "/srv/media/in.mp4", OutputDir: "/srv/hls/../../var/lib/postgresql"},
			wantErr: true,
		},
		{
			name:    "sibling with shared prefix",
			job:     ConversionJob{InputPath: "/srv/media/in.mp4", OutputDir: "/srv/hls-other/job1"},
			wantErr: true,
		},
		{
			name:    "input outside root",
			job:     ConversionJob{InputPath: "/etc/passwd", OutputDir: "/srv/hls/job1"},
			wantErr: true,
		},
		{
			name:    "external subtitle outside root",
			job:     ConversionJob{InputPath: "/srv/media/in.mp4", OutputDir: "/srv/hls/job1", Options: withSubtitle("/etc/shadow")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := roots.Check(&tt.job)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrPathOutsideRoot) {
				t.Errorf("Check() error = %v, want ErrPathOutsideRoot", err)
			}
		})
	}
}

func TestPathRoots_CheckEmptyRoots(t *testing.T) {
	job := &ConversionJob{InputPath: "/srv/media/in.mp4", OutputDir: "/srv/hls/job1"}

	if err := (PathRoots{}).Check(job); !errors.Is(err, ErrPathOutsideRoot) {
		t.Errorf("Check() with empty roots error = %v, want ErrPathOutsideRoot", err)
	}
}

func TestPathRoots_CheckFollowsSymlinks(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "hls")
	outside := filepath.Join(base, "outside")
	for _, dir := range []string{root, outside} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	roots := PathRoots{Input: base, Output: root}

	escaping := &ConversionJob{InputKey: "k", OutputDir: filepath.Join(root, "escape", "job1")}
	if err := roots.Check(escaping); !errors.Is(err, ErrPathOutsideRoot) {
		t.Errorf("Check() through symlink error = %v, want ErrPathOutsideRoot", err)
	}

	fresh := &ConversionJob{InputKey: "k", OutputDir: filepath.Join(root, "not", "created", "yet")}
	if err := roots.Check(fresh); err != nil {
		t.Errorf("Check() for a directory not created yet error = %v", err)
	}
}
