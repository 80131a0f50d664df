package chat

import (
	"context"
	"errors"
	"sync"
)

// The error returned when pushing to or waiting on an Outbox that has been
// closed.
var ErrOutboxClosed = errors.New("outbox closed")

// Outbox is an unbounded FIFO queue of encoded frames waiting to be written
// to one participant. Push never blocks, so a participant that stops reading
// only grows its own queue.
type Outbox struct {
	mu       sync.Mutex
	queue    [][]byte
	closed   bool
	finished bool

	ready      chan struct{}
	finish     chan struct{}
	done       chan struct{}
	finishOnce sync.Once
	closeOnce  sync.Once
}

// NewOutbox creates an empty, open Outbox.
func NewOutbox() *Outbox {
	return &Outbox{
		ready:  make(chan struct{}, 1),
		finish: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Push appends a frame to the end of the queue.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	if o.closed || o.finished {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	o.queue = append(o.queue, frame)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// Next removes and returns the frame at the head of the queue, blocking until
// one is available. It returns ErrOutboxClosed once the Outbox is closed, even
// if frames were still queued, or once a finished Outbox runs empty. It
// returns ctx.Err() if ctx is done first.
func (o *Outbox) Next(ctx context.Context) ([]byte, error) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, ErrOutboxClosed
		}
		if len(o.queue) > 0 {
			frame := o.queue[0]
			o.queue[0] = nil
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return frame, nil
		}
		if o.finished {
			o.mu.Unlock()
			return nil, ErrOutboxClosed
		}
		o.mu.Unlock()

		select {
		case <-o.ready:
		case <-o.finish:
		case <-o.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Done returns a channel that is closed when the Outbox is closed.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Finish stops accepting frames but lets Next hand out the ones already
// queued. Safe to call more than once.
func (o *Outbox) Finish() {
	o.finishOnce.Do(func() {
		o.mu.Lock()
		o.finished = true
		o.mu.Unlock()
		close(o.finish)
	})
}

// Close discards queued frames and wakes up any waiter. Safe to call more
// than once.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.queue = nil
		o.mu.Unlock()
		close(o.done)
	})
}
