package pipeline

import (
	"sync"

	"github.com/hszk-dev/hlsforge/internal/eventstream"
	"github.com/hszk-dev/hlsforge/internal/transcoder"
)

// fanIn serializes the sends of concurrent stages so the overall Progress
// seen by the consumer never decreases.
type fanIn struct {
	mu     sync.Mutex
	em     *eventstream.Emitter[Event]
	stages map[Stage]float64
	last   float64
}

func newFanIn(em *eventstream.Emitter[Event], stages []Stage) *fanIn {
	f := &fanIn{em: em, stages: make(map[Stage]float64, len(stages))}
	for _, s := range stages {
		f.stages[s] = 0
	}
	return f
}

// send records fraction for ev.Stage and delivers ev with the overall progress.
func (f *fanIn) send(ev Event, fraction float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev.Progress = f.update(ev.Stage, fraction)
	f.em.Send(ev)
}

func (f *fanIn) update(stage Stage, fraction float64) float64 {
	if cur, ok := f.stages[stage]; ok && fraction > cur {
		f.stages[stage] = min(fraction, 1)
	}
	var sum float64
	for _, v := range f.stages {
		sum += v
	}
	if len(f.stages) > 0 {
		f.last = max(f.last, sum/float64(len(f.stages)))
	}
	return f.last
}

func (f *fanIn) progress() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// videoFraction turns per-rendition progress into a stage fraction.
type videoFraction struct {
	total int
	done  int
}

func (v *videoFraction) update(ev transcoder.Event) float64 {
	switch ev.Kind {
	case transcoder.EventStarted:
		v.total = len(ev.Renditions)
	case transcoder.EventRenditionCompleted:
		v.done++
	case transcoder.EventCompleted:
		return 1
	}
	if v.total == 0 {
		return 0
	}
	current := 0.0
	if ev.Kind == transcoder.EventProgress {
		current = ev.Fraction
	}
	return min((float64(v.done)+current)/float64(v.total), 1)
}
