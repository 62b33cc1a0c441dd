package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/gookit/color"

	"github.com/hszk-dev/hlsforge/internal/pipeline"
)

func printStatus(c color.Color, label, msg string) {
	fmt.Printf("%s %s\n", c.Sprintf("%-10s", label), msg)
}

func printSummary(final pipeline.Event, outputDir string, elapsed time.Duration) {
	s := final.Summary
	if s == nil {
		printStatus(color.Red, "failed", fmt.Sprint(final.Err))
		return
	}

	for _, row := range []struct {
		stage  pipeline.Stage
		result pipeline.StageResult
	}{
		{pipeline.StageVideo, s.Video},
		{pipeline.StageThumbnails, s.Thumbnails},
		{pipeline.StageSubtitles, s.Subtitles},
	} {
		msg := string(row.result.Status)
		if row.result.Err != nil {
			msg += ": " + row.result.Err.Error()
		}
		printStatus(stageColor(row.result.Status), string(row.stage), msg)
	}

	if s.MasterPlaylist != "" {
		labels := make([]string, 0, len(s.Renditions))
		for _, r := range s.Renditions {
			labels = append(labels, r.Label())
		}
		printStatus(color.Bold, "playlist", fmt.Sprintf("%s (%s, %s)", s.MasterPlaylist, strings.Join(labels, ","), s.Encoder))
	}
	if s.SpritePath != "" {
		printStatus(color.Bold, "sprite", s.SpritePath)
	}
	for i, track := range s.SubtitleTracks {
		if i < len(s.SubtitlePlaylists) {
			printStatus(color.Bold, "subtitle", fmt.Sprintf("%s [%s] %s", track.Language, track.Source, s.SubtitlePlaylists[i]))
		}
	}

	files, size, err := dirSize(outputDir)
	if err == nil {
		printStatus(color.Bold, "output", fmt.Sprintf("%d files, %s in %s", files, bytefmt.ByteSize(size), elapsed.Round(time.Second)))
	}

	if final.Kind == pipeline.EventCompleted {
		if degraded := s.Degraded(); len(degraded) > 0 {
			names := make([]string, 0, len(degraded))
			for _, st := range degraded {
				names = append(names, string(st))
			}
			printStatus(color.Yellow, "degraded", "without "+strings.Join(names, ", "))
		}
		printStatus(color.Green, "done", outputDir)
	} else {
		printStatus(color.Red, "failed", fmt.Sprint(final.Err))
	}
}

func stageColor(status pipeline.StageStatus) color.Color {
	switch status {
	case pipeline.StatusCompleted:
		return color.Green
	case pipeline.StatusFailed:
		return color.Red
	case pipeline.StatusSkipped:
		return color.Yellow
	default:
		return color.Gray
	}
}

// dirSize counts the regular files under root and their total size.
func dirSize(root string) (int, uint64, error) {
	var files int
	var size uint64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += uint64(info.Size())
		return nil
	})
	return files, size, err
}
