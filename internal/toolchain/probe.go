package toolchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

var (
	resolutionPattern = regexp.MustCompile(`(\d{2,4})x(\d{2,4})`)
	durationPattern   = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+(?:\.\d+)?)`)
	elapsedPattern    = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.\d+)`)
)

// Source describes the probed source video.
type Source struct {
	Width    int
	Height   int
	Duration float64 // seconds
}

// ProbeSource reads resolution and duration from the banner ffmpeg prints for `-i input`.
// ffmpeg exits non-zero when no output is given, so only cancellation and a
// missing engine are treated as errors here.
func ProbeSource(ctx context.Context, ffmpeg Runner, input string) (Source, error) {
	lines, err := Collect(ctx, ffmpeg, []string{"-hide_banner", "-i", input})
	if err != nil && !errors.Is(err, model.ErrSubprocessFailed) {
		return Source{}, err
	}

	src, perr := ParseSource(lines)
	if perr != nil {
		var subErr *model.SubprocessError
		if errors.As(err, &subErr) {
			return Source{}, fmt.Errorf("%w: %s", perr, subErr.Error())
		}
		return Source{}, perr
	}
	return src, nil
}

// ParseSource extracts resolution and duration from ffmpeg's input description.
// The resolution is taken from the first video stream line when present.
func ParseSource(lines []string) (Source, error) {
	var src Source

	match := func(line string) bool {
		m := resolutionPattern.FindStringSubmatch(line)
		if m == nil {
			return false
		}
		src.Width, _ = strconv.Atoi(m[1])
		src.Height, _ = strconv.Atoi(m[2])
		return true
	}

	found := false
	for _, line := range lines {
		if strings.Contains(line, "Video:") && match(line) {
			found = true
			break
		}
	}
	if !found {
		match(strings.Join(lines, "\n"))
	}

	for _, line := range lines {
		if m := durationPattern.FindStringSubmatch(line); m != nil {
			src.Duration = clockSeconds(m[1], m[2], m[3])
			break
		}
	}

	if src.Width <= 0 || src.Height <= 0 {
		return Source{}, fmt.Errorf("%w: resolution not found", model.ErrInvalidSourceMetadata)
	}
	if src.Duration <= 0 {
		return Source{}, fmt.Errorf("%w: duration not found", model.ErrInvalidSourceMetadata)
	}
	return src, nil
}

// ParseElapsed returns the encoder position reported by an ffmpeg status line.
func ParseElapsed(line string) (float64, bool) {
	m := elapsedPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	return clockSeconds(m[1], m[2], m[3]), true
}

func clockSeconds(h, m, s string) float64 {
	hours, _ := strconv.ParseFloat(h, 64)
	minutes, _ := strconv.ParseFloat(m, 64)
	seconds, _ := strconv.ParseFloat(s, 64)
	return hours*3600 + minutes*60 + seconds
}

// SubtitleStream is a subtitle stream reported by ffprobe.
type SubtitleStream struct {
	Index    int
	Codec    string
	Language string
	Title    string
}

type ffprobeOutput struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecName string `json:"codec_name"`
		Tags      struct {
			Language string `json:"language"`
			Title    string `json:"title"`
		} `json:"tags"`
	} `json:"streams"`
}

// ProbeSubtitles lists the subtitle streams of input in container order.
func ProbeSubtitles(ctx context.Context, ffprobe Runner, input string) ([]SubtitleStream, error) {
	lines, err := Collect(ctx, ffprobe, []string{
		"-v", "error",
		"-select_streams", "s",
		"-show_entries", "stream=index,codec_name:stream_tags=language,title",
		"-of", "json",
		input,
	})
	if err != nil {
		return nil, err
	}
	return ParseSubtitleStreams(jsonDocument(lines))
}

// jsonDocument drops diagnostics that share the output pipe with ffprobe's
// JSON writer. The writer indents every line except the outer braces, while
// demuxer warnings start in column zero.
func jsonDocument(lines []string) []byte {
	var b strings.Builder
	for _, line := range lines {
		indented := strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
		if !indented && !strings.HasPrefix(line, "{") && !strings.HasPrefix(line, "}") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// ParseSubtitleStreams decodes ffprobe's JSON stream listing.
func ParseSubtitleStreams(data []byte) ([]SubtitleStream, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}

	streams := make([]SubtitleStream, 0, len(out.Streams))
	for _, s := range out.Streams {
		streams = append(streams, SubtitleStream{
			Index:    s.Index,
			Codec:    s.CodecName,
			Language: s.Tags.Language,
			Title:    s.Tags.Title,
		})
	}
	return streams, nil
}
