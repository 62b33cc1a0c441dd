// Package playlist writes the HLS playlists the encoder does not produce itself.
package playlist

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

// MasterName is the file name of the master playlist inside the output directory.
const MasterName = "master.m3u8"

const (
	header           = "#EXTM3U"
	playlistTypeVOD  = "#EXT-X-PLAYLIST-TYPE:VOD"
	endList          = "#EXT-X-ENDLIST"
	streamInfoFormat = "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n"
)

// BuildMaster renders a master playlist referencing one variant playlist per
// rendition, in the given order.
func BuildMaster(renditions []model.Rendition) ([]byte, error) {
	if len(renditions) == 0 {
		return nil, fmt.Errorf("%w: no variants to reference", model.ErrPlaylistAssemblyFailed)
	}

	var sb strings.Builder
	sb.WriteString(header + "\n")
	for _, r := range renditions {
		fmt.Fprintf(&sb, streamInfoFormat, r.Bandwidth(), r.Resolution())
		sb.WriteString(r.VariantPlaylist() + "\n")
	}
	return []byte(sb.String()), nil
}

// WriteMaster atomically writes master.m3u8 into outputDir and returns its path.
func WriteMaster(outputDir string, renditions []model.Rendition) (string, error) {
	data, err := BuildMaster(renditions)
	if err != nil {
		return "", err
	}

	path := filepath.Join(outputDir, MasterName)
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", model.ErrPlaylistAssemblyFailed, err)
	}
	return path, nil
}

// FinalizeMediaPlaylist makes a segment-list playlist written by ffmpeg's
// segment muxer a valid VOD media playlist. The file is rewritten only when
// a tag was missing, so repeated calls leave it byte-identical.
func FinalizeMediaPlaylist(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", model.ErrPlaylistAssemblyFailed, filepath.Base(path), err)
	}

	content := string(data)
	normalized := NormalizeMediaPlaylist(content)
	if normalized == content {
		return nil
	}

	if err := WriteFileAtomic(path, []byte(normalized), 0o644); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPlaylistAssemblyFailed, err)
	}
	return nil
}

// NormalizeMediaPlaylist inserts #EXT-X-PLAYLIST-TYPE:VOD after the header and
// appends #EXT-X-ENDLIST when they are absent.
func NormalizeMediaPlaylist(content string) string {
	hasType := strings.Contains(content, playlistTypeVOD)
	hasEnd := strings.Contains(content, endList)
	if hasType && hasEnd {
		return content
	}

	lines := strings.Split(strings.TrimRight(content, "\r\n"), "\n")

	if !hasType {
		for i, line := range lines {
			if strings.HasPrefix(line, header) {
				lines = slices.Insert(lines, i+1, playlistTypeVOD)
				break
			}
		}
	}
	if !hasEnd {
		lines = append(lines, endList)
	}

	return strings.Join(lines, "\n") + "\n"
}

// WriteFileAtomic writes data to a temporary file in the target directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
