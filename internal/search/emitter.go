package search

import (
	"errors"
	"sync"

	"deepagg/internal/domain"
)

var ErrSessionClosed = errors.New("search session already terminated")

type Emitter interface {
	Emit(event domain.StreamEvent) error
}

// SerialEmitter serializes writes to sink and refuses anything after the
// first terminal event.
type SerialEmitter struct {
	mu     sync.Mutex
	sink   func(domain.StreamEvent) error
	closed bool
}

func NewSerialEmitter(sink func(domain.StreamEvent) error) *SerialEmitter {
	return &SerialEmitter{sink: sink}
}

func (e *SerialEmitter) Emit(event domain.StreamEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrSessionClosed
	}
	if event.Terminal() {
		e.closed = true
	}
	if e.sink == nil {
		return nil
	}
	return e.sink(event)
}

func (e *SerialEmitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Discard accepts events and drops them.
func Discard() *SerialEmitter {
	return NewSerialEmitter(nil)
}

// Recorder keeps every emitted event in order.
type Recorder struct {
	*SerialEmitter

	mu     sync.Mutex
	events []domain.StreamEvent
}

func NewRecorder() *Recorder {
	r := &Recorder{}
	r.SerialEmitter = NewSerialEmitter(func(event domain.StreamEvent) error {
		r.mu.Lock()
		r.events = append(r.events, event)
		r.mu.Unlock()
		return nil
	})
	return r
}

func (r *Recorder) Events() []domain.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StreamEvent(nil), r.events...)
}
