// Package audio provides the bounded frame queues that connect a client
// connection to its upstream speech session.
package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueClosed is returned by queue operations after Close. Blocked
// producers and consumers wake with this instead of hanging.
var ErrQueueClosed = errors.New("audio: queue closed")

// OverflowPolicy controls what a full outbound queue does with a new frame
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued frame to admit the new one.
	// Stale audio is worthless in a live call, so this is the default.
	DropOldest OverflowPolicy = iota

	// BlockWithTimeout waits up to the configured grace for space, then
	// reports the frame dropped.
	BlockWithTimeout
)

// Queue is a bounded FIFO of audio frames. Frame ownership transfers from
// producer to queue to consumer; frames are never duplicated or reordered.
type Queue struct {
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most capacity frames
func NewQueue(capacity int) *Queue {
	return &Queue{
		frames: make(chan []byte, capacity),
		done:   make(chan struct{}),
	}
}

// Push enqueues a frame, blocking while the queue is full. Wakes with
// ErrQueueClosed on Close and with ctx.Err() on context cancellation.
func (q *Queue) Push(ctx context.Context, frame []byte) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.frames <- frame:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushDropOldest enqueues a frame without blocking, evicting queued frames
// oldest-first when full. Returns how many frames were evicted.
func (q *Queue) PushDropOldest(frame []byte) (dropped int, err error) {
	for {
		select {
		case <-q.done:
			return dropped, ErrQueueClosed
		default:
		}

		select {
		case q.frames <- frame:
			return dropped, nil
		default:
		}

		select {
		case <-q.frames:
			dropped++
		case q.frames <- frame:
			return dropped, nil
		case <-q.done:
			return dropped, ErrQueueClosed
		}
	}
}

// PushWait enqueues a frame, waiting at most grace for space. A frame that
// cannot be admitted in time is reported dropped, never silently corrupted.
func (q *Queue) PushWait(frame []byte, grace time.Duration) (dropped int, err error) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case q.frames <- frame:
		return 0, nil
	case <-timer.C:
		return 1, nil
	case <-q.done:
		return 0, ErrQueueClosed
	}
}

// Pop dequeues the next frame, blocking while the queue is empty. After
// Close, remaining frames are drained first, then ErrQueueClosed.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	// Drain buffered frames even after close
	select {
	case frame := <-q.frames:
		return frame, nil
	default:
	}

	select {
	case frame := <-q.frames:
		return frame, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of frames currently queued
func (q *Queue) Len() int {
	return len(q.frames)
}

// Close wakes all blocked producers and consumers. Idempotent and safe to
// call from concurrent teardown paths.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Closed reports whether Close has been called
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Bridge pairs the two unidirectional queues of one session: a small inbound
// queue whose blocking Push applies backpressure to the client read loop, and
// a larger outbound queue whose overflow policy keeps the upstream receive
// loop from blocking indefinitely.
type Bridge struct {
	ToUpstream   *Queue
	FromUpstream *Queue

	policy OverflowPolicy
	grace  time.Duration
}

// BridgeConfig sizes the queues and selects the outbound overflow policy
type BridgeConfig struct {
	InboundCapacity  int
	OutboundCapacity int
	Policy           OverflowPolicy
	Grace            time.Duration
}

// NewBridge creates the queue pair for one session
func NewBridge(cfg BridgeConfig) *Bridge {
	return &Bridge{
		ToUpstream:   NewQueue(cfg.InboundCapacity),
		FromUpstream: NewQueue(cfg.OutboundCapacity),
		policy:       cfg.Policy,
		grace:        cfg.Grace,
	}
}

// ForwardOut pushes an upstream audio frame toward the client, applying the
// configured overflow policy. Returns the number of frames dropped.
func (b *Bridge) ForwardOut(frame []byte) (dropped int, err error) {
	if b.policy == BlockWithTimeout {
		return b.FromUpstream.PushWait(frame, b.grace)
	}
	return b.FromUpstream.PushDropOldest(frame)
}

// Close closes both queues, waking everything blocked on them. Idempotent.
func (b *Bridge) Close() {
	b.ToUpstream.Close()
	b.FromUpstream.Close()
}
