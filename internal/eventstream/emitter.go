// Package eventstream provides the single-producer event channel shared by
// the conversion pipelines.
package eventstream

import "context"

// DefaultBuffer absorbs bursts of encoder output lines.
const DefaultBuffer = 64

// Emitter owns the send side of an event channel. Progress events are
// dropped once the context is cancelled so a stalled consumer never blocks
// cancellation; the terminal event is always delivered before the channel
// is closed.
type Emitter[E any] struct {
	ctx  context.Context
	ch   chan E
	done bool
}

// New returns an Emitter and the receive side of its channel.
func New[E any](ctx context.Context, buffer int) (*Emitter[E], <-chan E) {
	ch := make(chan E, buffer)
	return &Emitter[E]{ctx: ctx, ch: ch}, ch
}

// Send delivers ev unless the context is cancelled first.
func (e *Emitter[E]) Send(ev E) bool {
	if e.done {
		return false
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Finish delivers the terminal event and closes the channel. Later calls are no-ops.
func (e *Emitter[E]) Finish(ev E) {
	if e.done {
		return
	}
	e.done = true
	e.ch <- ev
	close(e.ch)
}
