package a2a

import (
	"context"
	"iter"
	"sync"
)

// Stream is the consumer side of message/send_stream. Snapshots arrive in
// order and the last one is terminal unless the consumer closes early.
// A stream can be consumed once.
type Stream struct {
	updates   chan Task
	done      chan struct{}
	closeOnce sync.Once
}

func newStream() *Stream {
	return &Stream{
		updates: make(chan Task),
		done:    make(chan struct{}),
	}
}

// emit blocks until the consumer takes t or closes the stream.
func (s *Stream) emit(t Task) bool {
	select {
	case s.updates <- t:
		return true
	case <-s.done:
		return false
	}
}

func (s *Stream) Updates() <-chan Task {
	return s.updates
}

// Close signals that the consumer wants no more snapshots. The producer
// cancels the underlying task if it has not finished yet.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Next returns the next snapshot, or false when the stream has ended or ctx
// is done.
func (s *Stream) Next(ctx context.Context) (Task, bool) {
	select {
	case t, ok := <-s.updates:
		return t, ok
	case <-ctx.Done():
		return Task{}, false
	}
}

// All ranges over the remaining snapshots. Breaking out of the loop closes
// the stream.
func (s *Stream) All() iter.Seq[Task] {
	return func(yield func(Task) bool) {
		defer s.Close()
		for t := range s.updates {
			if !yield(t) {
				return
			}
		}
	}
}

// Last drains the stream and returns the final snapshot.
func (s *Stream) Last(ctx context.Context) (Task, bool) {
	defer s.Close()
	var (
		last Task
		seen bool
	)
	for {
		t, ok := s.Next(ctx)
		if !ok {
			return last, seen
		}
		last, seen = t, true
	}
}
