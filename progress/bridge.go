// Package progress bridges a blocking computation on a worker goroutine to
// a consumer reading an ordered event stream, so a single HTTP connection
// can relay live status. One bridge serves exactly one run:
// single producer, single consumer, FIFO delivery, one terminal event.
package progress

import (
	"context"
	"sync"
)

// Kind discriminates the event variants.
type Kind string

const (
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Event is one unit of progress delivery. Progress events carry Pct and
// Message; the complete event carries the full result payload; the error
// event carries the message/code/details triple.
type Event struct {
	Kind    Kind           `json:"kind"`
	Pct     int            `json:"pct,omitempty"`
	Message string         `json:"message,omitempty"`
	Payload any            `json:"payload,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Bridge is an unbounded FIFO of events. The producer never blocks, so an
// abandoned consumer cannot stall the computation; it runs to completion
// and its remaining events are discarded.
type Bridge struct {
	mu        sync.Mutex
	queue     []Event
	ready     chan struct{}
	lastPct   int
	terminal  bool
	delivered bool
	abandoned bool
}

// NewBridge creates a bridge for one run.
func NewBridge() *Bridge {
	return &Bridge{ready: make(chan struct{}, 1)}
}

// Emit enqueues a progress event. Percentages are clamped to [0,100] and
// never decrease within the run. Calls after the terminal event or after
// Abandon are dropped.
func (b *Bridge) Emit(pct int, message string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminal || b.abandoned {
		return
	}
	if pct < b.lastPct {
		pct = b.lastPct
	}
	b.lastPct = pct
	b.push(Event{Kind: KindProgress, Pct: pct, Message: message})
}

// Complete enqueues the terminal success event carrying the run's result.
func (b *Bridge) Complete(payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminal || b.abandoned {
		return
	}
	b.terminal = true
	b.push(Event{Kind: KindComplete, Payload: payload})
}

// Fail enqueues the terminal error event.
func (b *Bridge) Fail(message, code string, details map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminal || b.abandoned {
		return
	}
	b.terminal = true
	b.push(Event{Kind: KindError, Message: message, Code: code, Details: details})
}

// push appends under b.mu and signals the consumer.
func (b *Bridge) push(ev Event) {
	b.queue = append(b.queue, ev)
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or ctx is done. ok is false once
// the terminal event has been delivered (the stream sentinel) or the
// context is cancelled; the consumer loop must terminate on it rather than
// on queue emptiness.
func (b *Bridge) Next(ctx context.Context) (Event, bool) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			ev := b.queue[0]
			b.queue = b.queue[1:]
			if ev.Kind != KindProgress {
				b.delivered = true
			}
			b.mu.Unlock()
			return ev, true
		}
		if b.delivered {
			b.mu.Unlock()
			return Event{}, false
		}
		b.mu.Unlock()

		select {
		case <-b.ready:
		case <-ctx.Done():
			b.Abandon()
			return Event{}, false
		}
	}
}

// Abandon marks the consumer gone. The producer keeps running; subsequent
// pushes become no-ops and queued events are dropped.
func (b *Bridge) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abandoned = true
	b.queue = nil
}

// Sink adapts the bridge to the plain progress-callback contract used by
// the trainer and predictor.
func (b *Bridge) Sink() func(pct int, message string) {
	return b.Emit
}
