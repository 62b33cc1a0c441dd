package transcoder

// progressTracker turns encoder positions into a clamped, non-decreasing
// fraction of the total source duration. It belongs to a single rendition.
type progressTracker struct {
	total float64
	last  float64
}

func newProgressTracker(totalSeconds float64) *progressTracker {
	return &progressTracker{total: totalSeconds}
}

// update returns the fraction for elapsed seconds and false when the
// position went backwards.
func (p *progressTracker) update(elapsed float64) (float64, bool) {
	if p.total <= 0 {
		return 0, false
	}
	fraction := min(max(elapsed/p.total, 0), 1)
	if fraction < p.last {
		return p.last, false
	}
	p.last = fraction
	return fraction, true
}
