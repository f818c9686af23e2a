package stream

import (
	"context"
	"sync"
	"time"
)

// eventBuffer is the capacity of the merged output channel. Deliberately
// tiny: a consumer that falls behind loses the oldest entries, never memory.
const eventBuffer = 3

// Supervisor owns one worker per logical channel and merges their frame and
// status streams into a single ordered, bounded output.
type Supervisor struct {
	mu      sync.Mutex
	workers map[string]*Worker
	events  chan Event
	wg      sync.WaitGroup
}

// NewSupervisor returns a supervisor with no channels yet.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		workers: make(map[string]*Worker),
		events:  make(chan Event, eventBuffer),
	}
}

// Add registers a channel under a role ("front", "top"). Must be called
// before Start.
func (s *Supervisor) Add(role string, source Source, annotate Annotator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[role] = NewWorker(role, source, annotate, s.publishDropOldest)
}

// Start launches all workers. They run until the context is cancelled.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(ctx)
		}()
	}
}

// Wait blocks until every worker has stopped, then drains and releases any
// frames still queued on the output.
func (s *Supervisor) Wait() {
	s.wg.Wait()
	for {
		select {
		case ev := <-s.events:
			if ev.Kind == EventFrame {
				ev.Frame.Close()
			}
		default:
			return
		}
	}
}

// Events is the merged frame/status output. Receivers own the frames they
// take and must close them.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Latest returns a copy of the newest processed frame for a role. The
// caller owns and closes the copy.
func (s *Supervisor) Latest(role string) (*Frame, bool) {
	s.mu.Lock()
	w, ok := s.workers[role]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return w.Latest()
}

// Status reports a channel's connection state and the seconds since it last
// delivered (or successfully connected).
func (s *Supervisor) Status(role string) (ChannelState, float64) {
	s.mu.Lock()
	w, ok := s.workers[role]
	s.mu.Unlock()
	if !ok {
		return StateDisconnected, 0
	}
	st := w.Status()
	age := 0.0
	if !st.LastSuccess.IsZero() {
		age = time.Since(st.LastSuccess).Seconds()
	}
	return st.State, age
}

// publishDropOldest enqueues an event, evicting the oldest entry (and
// closing its frame) when the buffer is full. Never blocks the workers.
func (s *Supervisor) publishDropOldest(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case old := <-s.events:
			if old.Kind == EventFrame {
				old.Frame.Close()
			}
		default:
		}
	}
}
