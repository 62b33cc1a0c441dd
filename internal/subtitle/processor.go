// Package subtitle converts embedded and external subtitle tracks to
// segmented WebVTT with one HLS media playlist per track.
package subtitle

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/eventstream"
	"github.com/hszk-dev/hlsforge/internal/playlist"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
)

// Processor runs ffprobe for stream discovery and ffmpeg for segmentation.
type Processor struct {
	ffmpeg  toolchain.Runner
	ffprobe toolchain.Runner
	logger  *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(ffmpeg, ffprobe toolchain.Runner, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		ffmpeg:  ffmpeg,
		ffprobe: ffprobe,
		logger:  logger.With(slog.String("component", "subtitle")),
	}
}

// Process discovers the subtitle tracks of inputPath plus opts.External and
// writes segmented WebVTT for each into outputDir, one track at a time.
// targetDuration should match the video segment duration.
func (p *Processor) Process(ctx context.Context, inputPath, outputDir string, opts model.SubtitleOptions, targetDuration float64) <-chan Event {
	em, events := eventstream.New[Event](ctx, eventstream.DefaultBuffer)

	go func() {
		result, err := p.process(ctx, inputPath, outputDir, opts, targetDuration, em)
		if err != nil {
			p.logger.Error("subtitle processing failed",
				slog.String("input", inputPath),
				slog.String("error_kind", model.ErrorKind(err)),
				slog.String("error", err.Error()),
			)
			em.Finish(Event{Kind: EventFailed, Err: err})
			return
		}
		em.Finish(result)
	}()

	return events
}

func (p *Processor) process(ctx context.Context, inputPath, outputDir string, opts model.SubtitleOptions, targetDuration float64, em *eventstream.Emitter[Event]) (Event, error) {
	em.Send(Event{Kind: EventStarted})

	var tracks []model.SubtitleTrack
	if opts.ExtractEmbedded {
		em.Send(Event{Kind: EventDetectingStreams})
		streams, err := toolchain.ProbeSubtitles(ctx, p.ffprobe, inputPath)
		switch {
		case model.Interrupted(err):
			return Event{}, err
		case err != nil:
			// External tracks can still be served without the embedded ones.
			p.logger.Warn("embedded subtitle detection failed, continuing without embedded tracks",
				slog.String("input", inputPath),
				slog.String("error", err.Error()),
			)
		default:
			tracks = EmbeddedTracks(streams)
			p.logger.Debug("embedded subtitle streams detected", slog.Int("count", len(tracks)))
		}
	}
	tracks = append(tracks, ExternalTracks(opts.External, len(tracks))...)
	ApplyDefaultLanguage(tracks, opts.DefaultLanguage)

	if len(tracks) == 0 {
		return Event{Kind: EventCompleted, Tracks: []model.SubtitleTrack{}, Playlists: []string{}}, nil
	}

	keys := FileKeys(tracks)
	playlists := make([]string, 0, len(tracks))
	for i, track := range tracks {
		if ctx.Err() != nil {
			return Event{}, model.Cancelled(ctx)
		}
		em.Send(Event{Kind: EventExtracting, Track: track, Current: i + 1, Total: len(tracks)})

		path, err := p.processTrack(ctx, inputPath, outputDir, track, keys[i], targetDuration, em)
		if err != nil {
			return Event{}, fmt.Errorf("subtitle track %s: %w", track.ID(), err)
		}
		playlists = append(playlists, path)
	}

	p.logger.Info("subtitles processed", slog.Int("tracks", len(tracks)))
	return Event{Kind: EventCompleted, Tracks: tracks, Playlists: playlists}, nil
}

func (p *Processor) processTrack(ctx context.Context, inputPath, outputDir string, track model.SubtitleTrack, key string, targetDuration float64, em *eventstream.Emitter[Event]) (string, error) {
	em.Send(Event{Kind: EventSegmenting, Track: track})

	args, err := segmentArgs(inputPath, outputDir, track, key, targetDuration)
	if err != nil {
		return "", err
	}
	if err := p.ffmpeg.Run(ctx, args, nil); err != nil {
		return "", err
	}

	playlistPath := filepath.Join(outputDir, PlaylistName(key))
	if err := playlist.FinalizeMediaPlaylist(playlistPath); err != nil {
		return "", err
	}

	em.Send(Event{Kind: EventWritingPlaylist, Track: track})
	return playlistPath, nil
}

func segmentArgs(inputPath, outputDir string, track model.SubtitleTrack, key string, targetDuration float64) ([]string, error) {
	// The key becomes part of two file names and a printf pattern.
	if key == "" || strings.ContainsAny(key, `/\%.`) {
		return nil, fmt.Errorf("%w: unsafe subtitle file key %q", model.ErrInvalidOptions, key)
	}

	var args []string
	switch track.Source {
	case model.SubtitleSourceEmbedded:
		args = []string{"-i", inputPath, "-map", "0:" + strconv.Itoa(track.Index)}
	case model.SubtitleSourceExternal:
		if track.Path == "" {
			return nil, fmt.Errorf("%w: external subtitle track has no path", model.ErrInvalidOptions)
		}
		args = []string{"-i", track.Path, "-map", "0:s:0"}
	default:
		return nil, fmt.Errorf("%w: unknown subtitle source %q", model.ErrInvalidOptions, track.Source)
	}

	return append(args,
		"-vn",
		"-an",
		"-c:s", "webvtt",
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%.0f", targetDuration),
		"-segment_list", filepath.Join(outputDir, PlaylistName(key)),
		"-segment_list_type", "m3u8",
		"-y", filepath.Join(outputDir, SegmentPattern(key)),
	), nil
}

// EmbeddedTracks turns probed streams into tracks. The first track is
// provisionally the default.
func EmbeddedTracks(streams []toolchain.SubtitleStream) []model.SubtitleTrack {
	tracks := make([]model.SubtitleTrack, 0, len(streams))
	for i, s := range streams {
		lang := model.NormalizeLanguage(s.Language)
		name := s.Title
		if name == "" {
			name = model.LanguageDisplayName(lang)
		}
		tracks = append(tracks, model.SubtitleTrack{
			Index:    s.Index,
			Language: lang,
			Name:     name,
			Default:  i == 0,
			Source:   model.SubtitleSourceEmbedded,
			Codec:    s.Codec,
		})
	}
	return tracks
}

// ExternalTracks turns caller-supplied files into tracks indexed from start.
func ExternalTracks(files []model.ExternalSubtitle, start int) []model.SubtitleTrack {
	tracks := make([]model.SubtitleTrack, 0, len(files))
	for i, f := range files {
		lang := model.NormalizeLanguage(f.Language)
		name := f.Name
		if name == "" {
			name = model.LanguageDisplayName(lang)
		}
		tracks = append(tracks, model.SubtitleTrack{
			Index:    start + i,
			Language: lang,
			Name:     name,
			Forced:   f.Forced,
			Source:   model.SubtitleSourceExternal,
			Codec:    model.SubtitleCodecFromPath(f.Path),
			Path:     f.Path,
		})
	}
	return tracks
}

// ApplyDefaultLanguage marks tracks in lang as default and clears the flag on
// the rest. An empty lang keeps the provisional defaults.
func ApplyDefaultLanguage(tracks []model.SubtitleTrack, lang string) {
	if lang == "" {
		return
	}
	for i := range tracks {
		tracks[i].Default = strings.EqualFold(tracks[i].Language, lang)
	}
}

// FileKeys returns the file name stem for each track. Tracks that would share
// a language/forced stem with an earlier track get their index appended, plus
// a counter when an embedded and an external track share that index too, so
// no two tracks write the same files.
func FileKeys(tracks []model.SubtitleTrack) []string {
	keys := make([]string, len(tracks))
	seen := make(map[string]bool, len(tracks))
	for i, t := range tracks {
		stem := t.FileKey()
		key := stem
		if seen[key] {
			key = fmt.Sprintf("%s_%d", stem, t.Index)
			for n := 2; seen[key]; n++ {
				key = fmt.Sprintf("%s_%d_%d", stem, t.Index, n)
			}
		}
		seen[key] = true
		keys[i] = key
	}
	return keys
}

// PlaylistName returns the playlist file name for a file key.
func PlaylistName(key string) string {
	return "subtitles_" + key + ".m3u8"
}

// SegmentPattern returns the segment file pattern for a file key.
func SegmentPattern(key string) string {
	return "subtitle_" + key + "_%04d.vtt"
}
