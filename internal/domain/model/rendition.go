package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Rendition is one rung of the adaptive-bitrate ladder: a target frame size
// and the bitrate ceiling used for rate control.
type Rendition struct {
	Width       int `json:"width" yaml:"width"`
	Height      int `json:"height" yaml:"height"`
	BitrateKbps int `json:"bitrate_kbps" yaml:"bitrate_kbps"`
}

var (
	Rendition2160p = Rendition{Width: 3840, Height: 2160, BitrateKbps: 10000}
	Rendition1440p = Rendition{Width: 2560, Height: 1440, BitrateKbps: 5000}
	Rendition1080p = Rendition{Width: 1920, Height: 1080, BitrateKbps: 3000}
	Rendition720p  = Rendition{Width: 1280, Height: 720, BitrateKbps: 1500}
	Rendition480p  = Rendition{Width: 854, Height: 480, BitrateKbps: 800}
	Rendition240p  = Rendition{Width: 426, Height: 240, BitrateKbps: 400}
)

// ErrUnknownRendition is returned when a rendition name does not match any ladder entry.
var ErrUnknownRendition = errors.New("unknown rendition")

// Ladder returns the fixed rendition ladder ordered from highest to lowest resolution.
// The returned slice is a fresh copy.
func Ladder() []Rendition {
	return []Rendition{
		Rendition2160p,
		Rendition1440p,
		Rendition1080p,
		Rendition720p,
		Rendition480p,
		Rendition240p,
	}
}

// Label returns the conventional name of the rendition, e.g. "720p".
func (r Rendition) Label() string {
	return fmt.Sprintf("%dp", r.Height)
}

// Resolution returns the WxH form used by playlists.
func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Bandwidth returns the bitrate ceiling in bits per second.
func (r Rendition) Bandwidth() int {
	return r.BitrateKbps * 1000
}

// VariantPlaylist returns the file name of the rendition's media playlist.
func (r Rendition) VariantPlaylist() string {
	return fmt.Sprintf("variant_%dp.m3u8", r.Height)
}

// SegmentPattern returns the printf-style file name pattern for the rendition's segments.
func (r Rendition) SegmentPattern() string {
	return fmt.Sprintf("segment_%dp_%%03d.ts", r.Height)
}

// SameSize reports whether both renditions have the same frame size.
func (r Rendition) SameSize(other Rendition) bool {
	return r.Width == other.Width && r.Height == other.Height
}

func (r Rendition) String() string {
	return r.Label()
}

// ParseRendition resolves a ladder entry from "720p", "4K", "2K" or "1280x720".
func ParseRendition(s string) (Rendition, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "4k", "uhd":
		return Rendition2160p, nil
	case "2k", "qhd":
		return Rendition1440p, nil
	}

	if w, h, ok := strings.Cut(name, "x"); ok {
		width, errW := strconv.Atoi(w)
		height, errH := strconv.Atoi(h)
		if errW == nil && errH == nil {
			for _, r := range Ladder() {
				if r.Width == width && r.Height == height {
					return r, nil
				}
			}
		}
		return Rendition{}, fmt.Errorf("%w: %q", ErrUnknownRendition, s)
	}

	if height, err := strconv.Atoi(strings.TrimSuffix(name, "p")); err == nil {
		for _, r := range Ladder() {
			if r.Height == height {
				return r, nil
			}
		}
	}

	return Rendition{}, fmt.Errorf("%w: %q", ErrUnknownRendition, s)
}

// ParseRenditions resolves every name, failing on the first unknown entry.
func ParseRenditions(names []string) ([]Rendition, error) {
	out := make([]Rendition, 0, len(names))
	for _, name := range names {
		r, err := ParseRendition(name)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
