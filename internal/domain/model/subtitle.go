package model

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// SubtitleSource tells where a subtitle track comes from.
type SubtitleSource string

const (
	SubtitleSourceEmbedded SubtitleSource = "embedded"
	SubtitleSourceExternal SubtitleSource = "external"
)

// ExternalSubtitle is a subtitle file supplied alongside the source video.
type ExternalSubtitle struct {
	Path     string `json:"path" yaml:"path"`
	Language string `json:"language" yaml:"language"`
	Name     string `json:"name,omitempty" yaml:"name"`
	Forced   bool   `json:"forced,omitempty" yaml:"forced"`
}

// SubtitleOptions configures subtitle discovery and segmentation.
type SubtitleOptions struct {
	Enabled         bool               `json:"enabled" yaml:"enabled"`
	ExtractEmbedded bool               `json:"extract_embedded" yaml:"extract_embedded"`
	External        []ExternalSubtitle `json:"external,omitempty" yaml:"external"`
	DefaultLanguage string             `json:"default_language,omitempty" yaml:"default_language"`
	Concurrent      bool               `json:"concurrent" yaml:"concurrent"`
}

func DefaultSubtitleOptions() SubtitleOptions {
	return SubtitleOptions{
		Enabled:         true,
		ExtractEmbedded: true,
		Concurrent:      true,
	}
}

func (o SubtitleOptions) Validate() error {
	if !o.Enabled {
		return nil
	}
	for i, ext := range o.External {
		if ext.Path == "" {
			return fmt.Errorf("%w: external subtitle %d has no path", ErrInvalidOptions, i)
		}
		if ext.Language == "" {
			return fmt.Errorf("%w: external subtitle %d has no language", ErrInvalidOptions, i)
		}
		if !ValidLanguage(ext.Language) {
			return fmt.Errorf("%w: external subtitle %d has malformed language %q", ErrInvalidOptions, i, ext.Language)
		}
	}
	if o.DefaultLanguage != "" && !ValidLanguage(o.DefaultLanguage) {
		return fmt.Errorf("%w: malformed default language %q", ErrInvalidOptions, o.DefaultLanguage)
	}
	return nil
}

// UndeterminedLanguage is the ISO 639-2 code for an unknown language.
const UndeterminedLanguage = "und"

// languageTag accepts ISO 639 codes with optional BCP 47 subtags. Track
// languages end up in file names, so nothing else gets through.
var languageTag = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{1,8})*$`)

// ValidLanguage reports whether tag is a well-formed language tag.
func ValidLanguage(tag string) bool {
	return languageTag.MatchString(tag)
}

// NormalizeLanguage returns tag when it is well formed and "und" otherwise.
func NormalizeLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if !ValidLanguage(tag) {
		return UndeterminedLanguage
	}
	return tag
}

// SubtitleTrack is a subtitle stream discovered in the source or declared by the caller.
type SubtitleTrack struct {
	// Index is the container stream index for embedded tracks and the
	// position after the embedded tracks for external ones.
	Index    int            `json:"index"`
	Language string         `json:"language"`
	Name     string         `json:"name"`
	Default  bool           `json:"default"`
	Forced   bool           `json:"forced"`
	Source   SubtitleSource `json:"source"`
	Codec    string         `json:"codec,omitempty"`
	Path     string         `json:"path,omitempty"`
}

// ID identifies the track within one conversion.
func (t SubtitleTrack) ID() string {
	return fmt.Sprintf("%s_%d_%s", t.Source, t.Index, t.Language)
}

// FileKey is the language/forced stem shared by the playlist and segment names.
func (t SubtitleTrack) FileKey() string {
	if t.Forced {
		return t.Language + "_forced"
	}
	return t.Language
}

// PlaylistName returns the track's segment-list playlist file name.
func (t SubtitleTrack) PlaylistName() string {
	return "subtitles_" + t.FileKey() + ".m3u8"
}

// SegmentPattern returns the printf-style file name pattern for the track's segments.
func (t SubtitleTrack) SegmentPattern() string {
	return "subtitle_" + t.FileKey() + "_%04d.vtt"
}

var languageNames = map[string]string{
	"en": "English", "eng": "English",
	"es": "Spanish", "spa": "Spanish",
	"fr": "French", "fra": "French", "fre": "French",
	"de": "German", "deu": "German", "ger": "German",
	"it": "Italian", "ita": "Italian",
	"pt": "Portuguese", "por": "Portuguese",
	"ja": "Japanese", "jpn": "Japanese",
	"ko": "Korean", "kor": "Korean",
	"zh": "Chinese", "zho": "Chinese", "chi": "Chinese",
	"ru": "Russian", "rus": "Russian",
	"ar": "Arabic", "ara": "Arabic",
	"hi": "Hindi", "hin": "Hindi",
	UndeterminedLanguage: "Unknown",
}

// LanguageDisplayName returns a human readable name for an ISO 639 code.
// Unknown codes are returned upper-cased.
func LanguageDisplayName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return strings.ToUpper(code)
}

// SubtitleCodecFromPath infers the subtitle codec from a file extension.
func SubtitleCodecFromPath(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "srt":
		return "subrip"
	case "vtt", "webvtt":
		return "webvtt"
	case "ass":
		return "ass"
	case "ssa":
		return "ssa"
	default:
		return ""
	}
}
