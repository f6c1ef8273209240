// Package queue serializes work per key. Tool instances use one lane each so
// their actions run one at a time while different instances run in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrEmptyLaneID is returned when Do is called with an empty lane ID.
	ErrEmptyLaneID = errors.New("queue: lane ID must not be empty")
	// ErrLaneClosed is returned for work submitted to, or still waiting in, a
	// lane that has been closed.
	ErrLaneClosed = errors.New("queue: lane closed")
)

type job struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

// lane runs jobs one at a time on its own goroutine until quit is closed.
type lane struct {
	jobs chan job
	quit chan struct{}
}

func (l *lane) run() {
	for {
		select {
		case <-l.quit:
			return
		case j := <-l.jobs:
			select {
			case <-l.quit:
				j.done <- ErrLaneClosed
				return
			default:
			}
			if err := j.ctx.Err(); err != nil {
				j.done <- err
				continue
			}
			j.done <- safeExec(j.fn)
		}
	}
}

// safeExec runs fn and turns a panic into an error.
func safeExec(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: panic: %v", r)
		}
	}()
	return fn()
}

// laneBufferSize is the capacity of each lane's job channel. Tests may lower
// it to reach the full-buffer path.
var laneBufferSize = 256

// Lanes serializes work per lane ID. Work in one lane runs in FIFO order;
// different lanes run concurrently.
type Lanes struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// NewLanes returns an empty Lanes.
func NewLanes() *Lanes {
	return &Lanes{lanes: make(map[string]*lane)}
}

// Do runs fn in the given lane and waits for it. It returns fn's error,
// ctx.Err() if ctx ends first, or ErrLaneClosed if the lane is closed before
// fn starts.
func (q *Lanes) Do(ctx context.Context, laneID string, fn func() error) error {
	if laneID == "" {
		return ErrEmptyLaneID
	}
	l := q.lane(laneID)
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case l.jobs <- j:
	case <-l.quit:
		return ErrLaneClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-l.quit:
		// The job may have finished just before the lane closed.
		select {
		case err := <-j.done:
			return err
		default:
			return ErrLaneClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Lanes) lane(laneID string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[laneID]; ok {
		return l
	}
	l := &lane{
		jobs: make(chan job, laneBufferSize),
		quit: make(chan struct{}),
	}
	q.lanes[laneID] = l
	go l.run()
	return l
}

// Close stops a lane. Jobs still queued fail with ErrLaneClosed; a job that
// is already running finishes. A later Do with the same ID opens a new lane.
// It reports whether the lane existed.
func (q *Lanes) Close(laneID string) bool {
	q.mu.Lock()
	l, ok := q.lanes[laneID]
	delete(q.lanes, laneID)
	q.mu.Unlock()
	if ok {
		close(l.quit)
	}
	return ok
}

// Len returns the number of open lanes.
func (q *Lanes) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}
