package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
	"github.com/hszk-dev/hlsforge/internal/toolchain/toolchaintest"
)

var probeBanner1080p = []string{
	"Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'input.mp4':",
	"  Duration: 00:01:00.00, start: 0.000000, bitrate: 5120 kb/s",
	"  Stream #0:0(und): Video: h264 (High) (avc1 / 0x31637661), yuv420p, 1920x1080 [SAR 1:1 DAR 16:9], 30 fps",
	"At least one output file must be specified",
}

func isProbe(args []string) bool {
	return len(args) == 3 && args[0] == "-hide_banner" && args[1] == "-i"
}

// encodeHandler answers source probes with banner and rendition encodes with
// two progress lines, creating the variant playlist named by the last argument.
func encodeHandler(banner []string, encode toolchaintest.HandlerFunc) toolchaintest.HandlerFunc {
	return func(ctx context.Context, args []string, onLine toolchain.LineFunc) error {
		if isProbe(args) {
			for _, l := range banner {
				onLine(l)
			}
			return &model.SubprocessError{Program: "ffmpeg", ExitCode: 1}
		}
		return encode(ctx, args, onLine)
	}
}

func successfulEncode(ctx context.Context, args []string, onLine toolchain.LineFunc) error {
	onLine("frame=  720 fps=120 q=28.0 size=1024kB time=00:00:30.00 bitrate=279.6kbits/s speed=5x")
	onLine("frame= 1440 fps=120 q=28.0 size=2048kB time=00:01:00.00 bitrate=279.6kbits/s speed=5x")
	return toolchaintest.WriteFile(args[len(args)-1], "#EXTM3U\n#EXT-X-ENDLIST\n")
}

func newTestTranscoder(runner toolchain.Runner) *FFmpegTranscoder {
	return NewFFmpegTranscoder(FFmpegConfig{
		Engine: toolchain.Engine{FFmpeg: "/usr/bin/ffmpeg", FFprobe: "/usr/bin/ffprobe"},
		Runner: runner,
		Arch:   "riscv64", // no hardware candidates, libx264 without probing
	})
}

func newInputFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	if err := os.WriteFile(path, []byte("dummy"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func drain(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func encodeCalls(runner *toolchaintest.Runner) [][]string {
	var out [][]string
	for _, call := range runner.Calls() {
		if toolchaintest.HasArg(call, "hls") {
			out = append(out, call)
		}
	}
	return out
}

func TestFFmpegTranscoder_ValidateInput(t *testing.T) {
	transcoder := newTestTranscoder(&toolchaintest.Runner{})

	t.Run("non-existent file returns error", func(t *testing.T) {
		err := transcoder.validateInput("/non/existent/file.mp4")
		if !errors.Is(err, model.ErrInvalidSourceMetadata) {
			t.Errorf("expected ErrInvalidSourceMetadata, got %v", err)
		}
	})

	t.Run("directory returns error", func(t *testing.T) {
		err := transcoder.validateInput(t.TempDir())
		if err == nil {
			t.Error("expected error when input is a directory")
		}
	})

	t.Run("existing file succeeds", func(t *testing.T) {
		if err := transcoder.validateInput(newInputFile(t)); err != nil {
			t.Errorf("unexpected error for existing file: %v", err)
		}
	})
}

func TestFFmpegTranscoder_ValidateOutputDir(t *testing.T) {
	transcoder := newTestTranscoder(&toolchaintest.Runner{})

	t.Run("non-existent directory returns error", func(t *testing.T) {
		if err := transcoder.validateOutputDir("/non/existent/dir"); err == nil {
			t.Error("expected error for non-existent directory")
		}
	})

	t.Run("file instead of directory returns error", func(t *testing.T) {
		if err := transcoder.validateOutputDir(newInputFile(t)); err == nil {
			t.Error("expected error when output is a file")
		}
	})

	t.Run("existing directory succeeds", func(t *testing.T) {
		if err := transcoder.validateOutputDir(t.TempDir()); err != nil {
			t.Errorf("unexpected error for existing directory: %v", err)
		}
	})
}

func TestFFmpegTranscoder_BuildRenditionArgs(t *testing.T) {
	transcoder := newTestTranscoder(&toolchaintest.Runner{})
	opts := model.DefaultConversionOptions()

	args := transcoder.buildRenditionArgs("/input/video.mp4", "/output", model.Rendition720p, model.EncoderLibx264, opts)

	expectedArgs := []string{
		"-i", "/input/video.mp4",
		"-c:v", "libx264",
		"-preset", "slow",
		"-g", "48",
		"-keyint_min", "48",
		"-sc_threshold", "0",
		"-maxrate", "1500k",
		"-bufsize", "3000k",
		"-vf", "scale=w=1280:h=720:force_original_aspect_ratio=decrease",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-f", "hls",
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-hls_time", "10",
		"-start_number", "0",
		"-hls_list_size", "0",
		"-movflags", "+faststart",
		"-hls_segment_filename", "/output/segment_720p_%03d.ts",
		"-y",
		"/output/variant_720p.m3u8",
	}

	if len(args) != len(expectedArgs) {
		t.Fatalf("arg count mismatch: got %d, expected %d", len(args), len(expectedArgs))
	}

	for i, expected := range expectedArgs {
		if args[i] != expected {
			t.Errorf("arg[%d]: got %q, expected %q", i, args[i], expected)
		}
	}
}

func TestFFmpegTranscoder_BuildRenditionArgs_CustomOptions(t *testing.T) {
	transcoder := newTestTranscoder(&toolchaintest.Runner{})
	opts := model.ConversionOptions{
		VideoCodec:     model.VideoCodecH265,
		SpeedPreset:    model.SpeedVeryfast,
		QualityPreset:  model.QualityHigh,
		AudioCodec:     model.AudioCodecOpus,
		AudioBitrate:   model.AudioBitrate192k,
		TargetDuration: 6,
		StartNumber:    1,
	}

	args := transcoder.buildRenditionArgs("/in.mp4", "/out", model.Rendition1080p, model.EncoderHEVCQSV, opts)

	tests := []struct {
		flag     string
		expected string
	}{
		{"-c:v", "hevc_qsv"},
		{"-preset", "veryfast"},
		{"-crf", "24"},
		{"-c:a", "libopus"},
		{"-b:a", "192k"},
		{"-hls_time", "6"},
		{"-start_number", "1"},
		{"-hls_segment_filename", "/out/segment_1080p_%03d.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			if got := toolchaintest.ArgAfter(args, tt.flag); got != tt.expected {
				t.Errorf("got %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestFFmpegTranscoder_RateControlPair(t *testing.T) {
	transcoder := newTestTranscoder(&toolchaintest.Runner{})

	for _, r := range model.Ladder() {
		t.Run(r.Label(), func(t *testing.T) {
			args := transcoder.buildRenditionArgs("/in.mp4", "/out", r, model.EncoderLibx264, model.DefaultConversionOptions())

			maxrate := strings.TrimSuffix(toolchaintest.ArgAfter(args, "-maxrate"), "k")
			bufsize := strings.TrimSuffix(toolchaintest.ArgAfter(args, "-bufsize"), "k")
			if maxrate == "" || bufsize == "" {
				t.Fatalf("rate control pair missing: %v", args)
			}

			var m, b int
			if _, err := fmt.Sscan(maxrate, &m); err != nil {
				t.Fatal(err)
			}
			if _, err := fmt.Sscan(bufsize, &b); err != nil {
				t.Fatal(err)
			}
			if b != 2*m {
				t.Errorf("bufsize %dk, expected 2 x maxrate %dk", b, m)
			}
			if toolchaintest.HasArg(args, "-b:v") {
				t.Error("flat video bitrate must not be set")
			}
		})
	}
}

func TestFFmpegTranscoder_Convert(t *testing.T) {
	runner := &toolchaintest.Runner{Handler: encodeHandler(probeBanner1080p, successfulEncode)}
	transcoder := newTestTranscoder(runner)
	outputDir := t.TempDir()

	events := drain(transcoder.Convert(context.Background(), newInputFile(t), outputDir, model.DefaultConversionOptions(), nil))

	if len(events) == 0 {
		t.Fatal("no events received")
	}
	if events[0].Kind != EventStarted {
		t.Fatalf("first event = %v, expected started", events[0].Kind)
	}
	if events[0].Encoder != model.EncoderLibx264 {
		t.Errorf("encoder = %v, expected libx264", events[0].Encoder)
	}

	last := events[len(events)-1]
	if last.Kind != EventCompleted {
		t.Fatalf("terminal event = %v (%v), expected completed", last.Kind, last.Err)
	}

	wantRenditions := []string{"1080p", "720p", "480p", "240p"}
	var completed []string
	lastFraction := map[string]float64{}
	terminals := 0
	for _, ev := range events {
		switch ev.Kind {
		case EventRenditionCompleted:
			completed = append(completed, ev.Rendition.Label())
		case EventProgress:
			if ev.Fraction < 0 || ev.Fraction > 1 {
				t.Errorf("fraction %v out of range", ev.Fraction)
			}
			if ev.Fraction < lastFraction[ev.Rendition.Label()] {
				t.Errorf("fraction decreased for %s", ev.Rendition.Label())
			}
			lastFraction[ev.Rendition.Label()] = ev.Fraction
		}
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("expected exactly one terminal event, got %d", terminals)
	}
	if strings.Join(completed, ",") != strings.Join(wantRenditions, ",") {
		t.Errorf("completed renditions = %v, expected %v", completed, wantRenditions)
	}
	for _, label := range wantRenditions {
		if lastFraction[label] != 1 {
			t.Errorf("rendition %s ended at %v, expected 1", label, lastFraction[label])
		}
	}

	master, err := os.ReadFile(filepath.Join(outputDir, "master.m3u8"))
	if err != nil {
		t.Fatalf("master playlist missing: %v", err)
	}
	if got := strings.Count(string(master), "#EXT-X-STREAM-INF"); got != 4 {
		t.Errorf("master playlist has %d stream entries, expected 4", got)
	}
	if last.MasterPlaylist != filepath.Join(outputDir, "master.m3u8") {
		t.Errorf("MasterPlaylist = %q", last.MasterPlaylist)
	}
	if got := len(encodeCalls(runner)); got != 4 {
		t.Errorf("expected 4 encoder runs, got %d", got)
	}
}

func TestFFmpegTranscoder_Convert_OutputLinesAfterProgress(t *testing.T) {
	runner := &toolchaintest.Runner{Handler: encodeHandler(probeBanner1080p, successfulEncode)}
	transcoder := newTestTranscoder(runner)

	excluded := []model.Rendition{model.Rendition1080p, model.Rendition720p, model.Rendition480p}
	events := drain(transcoder.Convert(context.Background(), newInputFile(t), t.TempDir(), model.DefaultConversionOptions(), excluded))

	var kinds []EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	expected := []EventKind{
		EventStarted,
		EventProgress, EventOutput,
		EventProgress, EventOutput,
		EventRenditionCompleted,
		EventCompleted,
	}
	if len(kinds) != len(expected) {
		t.Fatalf("event kinds = %v, expected %v", kinds, expected)
	}
	for i := range expected {
		if kinds[i] != expected[i] {
			t.Errorf("event[%d] = %v, expected %v", i, kinds[i], expected[i])
		}
	}
	if events[1].Fraction != 0.5 {
		t.Errorf("first progress = %v, expected 0.5", events[1].Fraction)
	}
}

func TestFFmpegTranscoder_Convert_RenditionFailure(t *testing.T) {
	var encodes atomic.Int32
	runner := &toolchaintest.Runner{Handler: encodeHandler(probeBanner1080p, func(ctx context.Context, args []string, onLine toolchain.LineFunc) error {
		if encodes.Add(1) == 2 {
			return toolchaintest.Fail("Conversion failed!")(ctx, args, onLine)
		}
		return successfulEncode(ctx, args, onLine)
	})}
	transcoder := newTestTranscoder(runner)
	outputDir := t.TempDir()

	events := drain(transcoder.Convert(context.Background(), newInputFile(t), outputDir, model.DefaultConversionOptions(), nil))

	last := events[len(events)-1]
	if last.Kind != EventFailed {
		t.Fatalf("terminal event = %v, expected failed", last.Kind)
	}
	if !errors.Is(last.Err, model.ErrSubprocessFailed) {
		t.Errorf("error = %v, expected ErrSubprocessFailed", last.Err)
	}
	if !strings.Contains(last.Err.Error(), "720p") {
		t.Errorf("error should name the rendition: %v", last.Err)
	}
	if got := len(encodeCalls(runner)); got != 2 {
		t.Errorf("expected encoding to stop after 2 runs, got %d", got)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "master.m3u8")); !os.IsNotExist(err) {
		t.Error("master playlist must not be written after a failure")
	}
}

func TestFFmpegTranscoder_Convert_Cancellation(t *testing.T) {
	runner := &toolchaintest.Runner{Handler: encodeHandler(probeBanner1080p, toolchaintest.BlockUntilCancelled(
		"frame=  240 fps=60 q=28.0 size=512kB time=00:00:08.00 bitrate=500kbits/s speed=2x",
	))}
	transcoder := newTestTranscoder(runner)
	outputDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []Event
	for ev := range transcoder.Convert(ctx, newInputFile(t), outputDir, model.DefaultConversionOptions(), nil) {
		events = append(events, ev)
		if ev.Kind == EventProgress {
			cancel()
		}
	}

	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}

	last := events[len(events)-1]
	if last.Kind != EventFailed || !errors.Is(last.Err, model.ErrCancelled) {
		t.Fatalf("terminal event = %v (%v), expected failed(cancelled)", last.Kind, last.Err)
	}
	if got := len(encodeCalls(runner)); got != 1 {
		t.Errorf("no rendition may start after cancellation, got %d runs", got)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "master.m3u8")); !os.IsNotExist(err) {
		t.Error("master playlist must not be written after cancellation")
	}
}

func TestFFmpegTranscoder_Convert_Errors(t *testing.T) {
	tests := []struct {
		name    string
		engine  toolchain.Engine
		banner  []string
		wantErr error
	}{
		{
			name:    "engine not found",
			engine:  toolchain.Engine{},
			banner:  probeBanner1080p,
			wantErr: model.ErrEngineNotFound,
		},
		{
			name:    "unreadable source",
			engine:  toolchain.Engine{FFmpeg: "ffmpeg", FFprobe: "ffprobe"},
			banner:  []string{"input.mp4: Invalid data found when processing input"},
			wantErr: model.ErrInvalidSourceMetadata,
		},
		{
			name:   "source below ladder",
			engine: toolchain.Engine{FFmpeg: "ffmpeg", FFprobe: "ffprobe"},
			banner: []string{
				"  Duration: 00:00:10.00, start: 0.000000",
				"  Stream #0:0: Video: h264, yuv420p, 320x180, 30 fps",
			},
			wantErr: model.ErrNoEligibleRendition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &toolchaintest.Runner{Handler: encodeHandler(tt.banner, successfulEncode)}
			transcoder := NewFFmpegTranscoder(FFmpegConfig{Engine: tt.engine, Runner: runner, Arch: "riscv64"})

			events := drain(transcoder.Convert(context.Background(), newInputFile(t), t.TempDir(), model.DefaultConversionOptions(), nil))

			if len(events) != 1 || events[0].Kind != EventFailed {
				t.Fatalf("expected a single failed event, got %v", events)
			}
			if !errors.Is(events[0].Err, tt.wantErr) {
				t.Errorf("error = %v, expected %v", events[0].Err, tt.wantErr)
			}
			if got := len(encodeCalls(runner)); got != 0 {
				t.Errorf("no encoder may run, got %d runs", got)
			}
		})
	}
}

func TestProgressTracker(t *testing.T) {
	p := newProgressTracker(100)

	tests := []struct {
		elapsed  float64
		expected float64
		emitted  bool
	}{
		{10, 0.1, true},
		{50, 0.5, true},
		{40, 0.5, false},
		{50, 0.5, true},
		{150, 1, true},
		{-5, 1, false},
	}

	for _, tt := range tests {
		got, ok := p.update(tt.elapsed)
		if got != tt.expected || ok != tt.emitted {
			t.Errorf("update(%v) = (%v, %v), expected (%v, %v)", tt.elapsed, got, ok, tt.expected, tt.emitted)
		}
	}

	if _, ok := newProgressTracker(0).update(10); ok {
		t.Error("zero duration must not report progress")
	}
}
