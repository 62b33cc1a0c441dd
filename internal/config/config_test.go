package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Worker.ProgressInterval != 500*time.Millisecond {
		t.Errorf("Worker.ProgressInterval = %v, want 500ms", cfg.Worker.ProgressInterval)
	}
	if len(cfg.Toolchain.SearchDirs) != 3 || cfg.Toolchain.SearchDirs[0] != "/opt/homebrew/bin" {
		t.Errorf("Toolchain.SearchDirs = %v", cfg.Toolchain.SearchDirs)
	}
	if got := cfg.Redis.Addr(); got != "localhost:6379" {
		t.Errorf("Redis.Addr() = %q", got)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.MinIO.UploadConcurrency != 4 {
		t.Errorf("MinIO.UploadConcurrency = %d, want 4", cfg.MinIO.UploadConcurrency)
	}
	want := model.PathRoots{Input: "/srv/hlsforge/input", Output: "/srv/hlsforge/output"}
	if got := cfg.Worker.Roots(); got != want {
		t.Errorf("Worker.Roots() = %+v, want %+v", got, want)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("TOOLCHAIN_SEARCH_DIRS", "/opt/ffmpeg/bin")
	t.Setenv("REDIS_PROGRESS_TTL", "1h")
	t.Setenv("WORKER_OUTPUT_ROOT", "/data/hls")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Toolchain.SearchDirs) != 1 || cfg.Toolchain.SearchDirs[0] != "/opt/ffmpeg/bin" {
		t.Errorf("Toolchain.SearchDirs = %v", cfg.Toolchain.SearchDirs)
	}
	if cfg.Redis.ProgressTTL != time.Hour {
		t.Errorf("Redis.ProgressTTL = %v, want 1h", cfg.Redis.ProgressTTL)
	}
	if cfg.Worker.OutputRoot != "/data/hls" {
		t.Errorf("Worker.OutputRoot = %q, want /data/hls", cfg.Worker.OutputRoot)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("API_PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid API_PORT")
	}
}

func TestConnectionStrings(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "hls", SSLMode: "disable"}
	if got, want := db.DSN(), "postgres://u:p@db:5432/hls?sslmode=disable"; got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}

	mq := RabbitMQConfig{Host: "mq", Port: 5672, User: "u", Password: "p", VHost: "/"}
	if got, want := mq.URL(), "amqp://u:p@mq:5672/"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestParseProfile(t *testing.T) {
	data := []byte(`
video_codec: h265
quality_preset: efficient
target_duration: 6
exclude: [4K, 1440p]
thumbnails:
  interval: 5
  format: webp
`)

	p, err := ParseProfile(data)
	if err != nil {
		t.Fatalf("ParseProfile() error = %v", err)
	}

	if p.Options.VideoCodec != model.VideoCodecH265 {
		t.Errorf("VideoCodec = %q, want h265", p.Options.VideoCodec)
	}
	if p.Options.SpeedPreset != model.SpeedSlow {
		t.Errorf("SpeedPreset = %q, want default slow", p.Options.SpeedPreset)
	}
	if p.Options.TargetDuration != 6 {
		t.Errorf("TargetDuration = %d, want 6", p.Options.TargetDuration)
	}
	if p.Options.CRF() != 32 {
		t.Errorf("CRF() = %d, want 32", p.Options.CRF())
	}

	if p.Options.Thumbnails == nil {
		t.Fatal("Thumbnails = nil, want section from profile")
	}
	if p.Options.Thumbnails.Interval != 5 || p.Options.Thumbnails.Format != model.ImageFormatWebP {
		t.Errorf("Thumbnails = %+v", *p.Options.Thumbnails)
	}
	if p.Options.Thumbnails.Width != model.ThumbnailWidthMedium || !p.Options.Thumbnails.Enabled {
		t.Errorf("unset thumbnail fields should keep defaults, got %+v", *p.Options.Thumbnails)
	}
	if p.Options.Subtitles != nil {
		t.Errorf("Subtitles = %+v, want nil when section is absent", *p.Options.Subtitles)
	}

	if len(p.Exclude) != 2 || p.Exclude[0] != model.Rendition2160p || p.Exclude[1] != model.Rendition1440p {
		t.Errorf("Exclude = %v", p.Exclude)
	}
}

func TestParseProfile_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unknown field", data: "video_codc: h264\n"},
		{name: "invalid enum", data: "speed_preset: warp\n"},
		{name: "unknown rendition", data: "exclude: [8k]\n"},
		{name: "malformed yaml", data: "thumbnails: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, model.ErrInvalidOptions) && !errors.Is(err, model.ErrUnknownRendition) {
				t.Errorf("unexpected error type: %v", err)
			}
		})
	}
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mobile.yaml")
	if err := os.WriteFile(path, []byte("speed_preset: fast\nsubtitles:\n  default_language: eng\n"), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if p.Options.SpeedPreset != model.SpeedFast {
		t.Errorf("SpeedPreset = %q, want fast", p.Options.SpeedPreset)
	}
	if p.Options.Subtitles == nil || p.Options.Subtitles.DefaultLanguage != "eng" || !p.Options.Subtitles.ExtractEmbedded {
		t.Errorf("Subtitles = %+v", p.Options.Subtitles)
	}

	if _, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing profile")
	}
}
