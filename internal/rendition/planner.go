// Package rendition selects which ladder entries to encode for a source.
package rendition

import (
	"fmt"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

// Plan returns the ladder entries that fit inside the source frame and are
// not excluded, highest resolution first. Entries are never upscaled.
func Plan(sourceWidth, sourceHeight int, excluded []model.Rendition) ([]model.Rendition, error) {
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return nil, fmt.Errorf("%w: source resolution %dx%d", model.ErrInvalidSourceMetadata, sourceWidth, sourceHeight)
	}

	var planned []model.Rendition
	for _, r := range Options(sourceWidth, sourceHeight) {
		if isExcluded(r, excluded) {
			continue
		}
		planned = append(planned, r)
	}

	if len(planned) == 0 {
		return nil, fmt.Errorf("%w: source %dx%d with %d exclusions", model.ErrNoEligibleRendition, sourceWidth, sourceHeight, len(excluded))
	}
	return planned, nil
}

// Options lists every ladder entry that fits inside the source frame. Callers
// use it to offer exclusion choices before submitting a conversion.
func Options(sourceWidth, sourceHeight int) []model.Rendition {
	var out []model.Rendition
	for _, r := range model.Ladder() {
		if r.Width <= sourceWidth && r.Height <= sourceHeight {
			out = append(out, r)
		}
	}
	return out
}

func isExcluded(r model.Rendition, excluded []model.Rendition) bool {
	for _, e := range excluded {
		if r.SameSize(e) {
			return true
		}
	}
	return false
}
