package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

// Profile is a named conversion preset loaded from YAML.
//
//	video_codec: h265
//	quality_preset: efficient
//	exclude: [2160p, 1440p]
//	thumbnails:
//	  interval: 5
//	  format: webp
type Profile struct {
	Options model.ConversionOptions
	Exclude []model.Rendition
}

type profileFile struct {
	model.ConversionOptions `yaml:",inline"`
	Exclude                 []string `yaml:"exclude"`
}

// LoadProfile reads a profile from path.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a YAML profile. Unset fields keep their defaults;
// thumbnails and subtitles are enabled only when their section is present.
func ParseProfile(data []byte) (Profile, error) {
	var sections map[string]interface{}
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", model.ErrInvalidOptions, err)
	}

	thumbs := model.DefaultThumbnailOptions()
	subs := model.DefaultSubtitleOptions()
	file := profileFile{ConversionOptions: model.DefaultConversionOptions()}
	file.Thumbnails = &thumbs
	file.Subtitles = &subs

	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", model.ErrInvalidOptions, err)
	}
	if _, ok := sections["thumbnails"]; !ok {
		file.Thumbnails = nil
	}
	if _, ok := sections["subtitles"]; !ok {
		file.Subtitles = nil
	}

	if err := file.ConversionOptions.Validate(); err != nil {
		return Profile{}, err
	}
	exclude, err := model.ParseRenditions(file.Exclude)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Options: file.ConversionOptions, Exclude: exclude}, nil
}
