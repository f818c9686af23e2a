package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ConnectTimeout bounds one connect attempt; an attempt that runs past
	// it counts as a failure.
	ConnectTimeout = 10 * time.Second

	// ReconnectBackoff is the fixed delay between connect attempts.
	ReconnectBackoff = 3 * time.Second

	// processInterval caps the processor loop at roughly 30 Hz.
	processInterval = 33 * time.Millisecond
)

// Worker owns one video source. A reader goroutine pulls frames as fast as
// the transport allows and publishes only the newest into a single-slot
// cell; the processor loop drains the cell at a capped rate, runs the
// annotation hook, and republishes. Every stream fault collapses into a
// reconnect cycle; nothing here is ever fatal.
type Worker struct {
	role     string
	source   Source
	annotate Annotator
	publish  func(Event)
	cell     *Cell[*Frame]

	connectTimeout time.Duration
	backoff        time.Duration
	interval       time.Duration

	mu     sync.Mutex
	status ChannelStatus
	latest *Frame
}

// NewWorker builds a worker for one logical channel. publish receives frame
// and status events; it must not block (the supervisor's drop-oldest channel
// satisfies this).
func NewWorker(role string, source Source, annotate Annotator, publish func(Event)) *Worker {
	return &Worker{
		role:           role,
		source:         source,
		annotate:       annotate,
		publish:        publish,
		cell:           NewCell(func(f *Frame) { f.Close() }),
		connectTimeout: ConnectTimeout,
		backoff:        ReconnectBackoff,
		interval:       processInterval,
		status:         ChannelStatus{Role: role, State: StateDisconnected},
	}
}

// Run drives the connect/read/reconnect cycle until the context is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		w.setState(StateConnecting)
		openCtx, cancel := context.WithTimeout(ctx, w.connectTimeout)
		err := w.source.Open(openCtx)
		cancel()
		if err != nil {
			slog.Warn("stream_connect_failed", "role", w.role, "error", err)
			w.setState(StateDisconnected)
			if !sleepCtx(ctx, w.backoff) {
				break
			}
			continue
		}

		slog.Info("stream_connected", "role", w.role)
		w.setState(StateConnected)

		w.pump(ctx)
		w.source.Close()

		if ctx.Err() != nil {
			break
		}
		// An established stream that breaks is a fault, not a clean
		// disconnect; Error holds through the backoff until the next attempt.
		slog.Warn("stream_lost", "role", w.role)
		w.setState(StateError)
		if !sleepCtx(ctx, w.backoff) {
			break
		}
	}

	w.setState(StateDisconnected)
	if f, ok := w.cell.Take(); ok {
		f.Close()
	}
	w.mu.Lock()
	if w.latest != nil {
		w.latest.Close()
		w.latest = nil
	}
	w.mu.Unlock()
}

// pump runs the reader goroutine and the processor loop for one connection,
// returning when the stream breaks or the context is cancelled.
func (w *Worker) pump(ctx context.Context) {
	var stop atomic.Bool
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for !stop.Load() {
			mat, ok := w.source.Read()
			if !ok {
				return
			}
			w.cell.Put(&Frame{Role: w.role, Mat: mat, Time: time.Now()})
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			stop.Store(true)
			select {
			case <-readerDone:
			case <-time.After(time.Second):
			}
			return
		case <-readerDone:
			return
		case <-ticker.C:
			f, ok := w.cell.Take()
			if !ok {
				continue
			}
			w.process(f)
		}
	}
}

func (w *Worker) process(f *Frame) {
	if w.annotate != nil {
		w.annotate(&f.Mat, w.role)
	}

	now := time.Now()
	w.mu.Lock()
	w.status.LastFrame = now
	w.status.LastSuccess = now
	old := w.latest
	w.latest = f
	w.mu.Unlock()
	if old != nil {
		old.Close()
	}

	if w.publish != nil {
		w.publish(Event{
			Kind:  EventFrame,
			Frame: &Frame{Role: f.Role, Mat: f.Mat.Clone(), Time: f.Time},
		})
	}
}

// Latest returns a copy of the newest processed frame, if any. The caller
// owns and closes the copy.
func (w *Worker) Latest() (*Frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == nil {
		return nil, false
	}
	return &Frame{Role: w.latest.Role, Mat: w.latest.Mat.Clone(), Time: w.latest.Time}, true
}

// Status returns the worker's current connection status.
func (w *Worker) Status() ChannelStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) setState(st ChannelState) {
	w.mu.Lock()
	w.status.State = st
	if st == StateConnected {
		w.status.LastSuccess = time.Now()
	}
	status := w.status
	w.mu.Unlock()
	if w.publish != nil {
		w.publish(Event{Kind: EventStatus, Status: status})
	}
}

// sleepCtx waits for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
