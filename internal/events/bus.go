// Package events carries typed progress events from the controller to
// in-process observers (the CLI, tests). Delivery is asynchronous and
// non-blocking: a slow subscriber drops events instead of stalling the
// build loop.
package events

import (
	"sync"
	"time"
)

// ProgressType identifies a progress event.
type ProgressType string

const (
	ProgressPhaseChanged     ProgressType = "phase_changed"
	ProgressIterationStarted ProgressType = "iteration_started"
	ProgressStepFinished     ProgressType = "step_finished"
	ProgressGateEvaluated    ProgressType = "gate_evaluated"
	ProgressSessionFinished  ProgressType = "session_finished"
)

// Progress is one observable moment in a build session.
type Progress struct {
	Type      ProgressType
	SessionID string
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber receives progress events.
type Subscriber func(Progress)

// Bus fans progress out to subscribers over buffered channels. Publishing
// never blocks: a full subscriber channel drops the event for that
// subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[ProgressType][]chan Progress
	bufferSize  int
	closed      bool
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[ProgressType][]chan Progress),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one progress type and returns an unsubscribe
// function. fn runs on its own goroutine; panics in fn are contained so
// one bad observer cannot take down the bus.
func (b *Bus) Subscribe(pt ProgressType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Progress, b.bufferSize)
	b.subscribers[pt] = append(b.subscribers[pt], ch)

	go func() {
		for ev := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(ev)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[pt]
		for i, c := range subs {
			if c == ch {
				b.subscribers[pt] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish delivers an event to all subscribers of its type, dropping it
// for any subscriber whose buffer is full.
func (b *Bus) Publish(pt ProgressType, sessionID string, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	ev := Progress{
		Type:      pt,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[pt] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close tears down all subscriptions. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for pt, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, pt)
	}
}
