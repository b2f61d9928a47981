// Package scheduler runs work on the render thread.
//
// Any goroutine may queue work with Dispatch or RequestAnimationFrame. The
// render thread drains the queue with RunPending and runs frame callbacks
// with RunFrame. After Close, or once the parent context is cancelled,
// nothing new is accepted and queued work is dropped.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/nativegfx/internal/logger"
)

// FrameFunc receives the frame timestamp.
type FrameFunc func(now time.Time)

// Scheduler is a render-thread work queue.
type Scheduler struct {
	log *zap.Logger

	mu     sync.Mutex
	tasks  []func()
	frames map[uint64]FrameFunc
	order  []uint64
	nextID uint64
	closed bool
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler whose Context is derived from parent.
func New(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	s := &Scheduler{
		log:    logger.Named("scheduler"),
		frames: make(map[uint64]FrameFunc),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	context.AfterFunc(ctx, s.Close)
	return s
}

// stopped reports whether work must be refused. Callers hold mu.
func (s *Scheduler) stopped() bool {
	return s.closed || s.ctx.Err() != nil
}

// Context is cancelled when the scheduler closes or its parent is cancelled.
func (s *Scheduler) Context() context.Context { return s.ctx }

// Dispatch queues fn to run on the next RunPending. It reports false if the
// scheduler is closed.
func (s *Scheduler) Dispatch(fn func()) bool {
	s.mu.Lock()
	if s.stopped() {
		s.mu.Unlock()
		return false
	}
	s.tasks = append(s.tasks, fn)
	s.mu.Unlock()
	s.signal()
	return true
}

// RequestAnimationFrame queues fn for the next RunFrame and returns an id
// for Cancel. It returns 0 if the scheduler is closed.
func (s *Scheduler) RequestAnimationFrame(fn FrameFunc) uint64 {
	s.mu.Lock()
	if s.stopped() {
		s.mu.Unlock()
		return 0
	}
	s.nextID++
	id := s.nextID
	s.frames[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()
	s.signal()
	return id
}

// Cancel removes a pending frame callback.
func (s *Scheduler) Cancel(id uint64) {
	s.mu.Lock()
	delete(s.frames, id)
	s.mu.Unlock()
}

// Wake is signalled whenever work is queued.
func (s *Scheduler) Wake() <-chan struct{} { return s.wake }

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RunPending runs queued tasks in order and returns how many ran. Tasks
// queued while running wait for the next call. Once cancelled, the remaining
// tasks are dropped.
func (s *Scheduler) RunPending() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	if s.stopped() {
		tasks = nil
	}
	s.mu.Unlock()

	ran := 0
	for _, fn := range tasks {
		if s.ctx.Err() != nil {
			break
		}
		s.run(fn)
		ran++
	}
	return ran
}

// RunFrame runs the frame callbacks requested before this call. Callbacks
// that request another frame are deferred to the next RunFrame.
func (s *Scheduler) RunFrame(now time.Time) int {
	s.mu.Lock()
	if s.stopped() {
		s.order = nil
		s.frames = make(map[uint64]FrameFunc)
		s.mu.Unlock()
		return 0
	}
	order := s.order
	s.order = nil
	var fns []FrameFunc
	for _, id := range order {
		if fn, ok := s.frames[id]; ok {
			fns = append(fns, fn)
			delete(s.frames, id)
		}
	}
	s.mu.Unlock()

	ran := 0
	for _, fn := range fns {
		if s.ctx.Err() != nil {
			break
		}
		s.run(func() { fn(now) })
		ran++
	}
	return ran
}

// HasFrameRequests reports whether a frame callback is pending.
func (s *Scheduler) HasFrameRequests() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames) > 0
}

func (s *Scheduler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("render task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Close cancels the context and drops queued work. It is safe to call more
// than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := len(s.tasks) + len(s.frames)
	s.tasks = nil
	s.frames = make(map[uint64]FrameFunc)
	s.order = nil
	s.mu.Unlock()

	s.cancel()
	if dropped > 0 {
		s.log.Debug("dropped pending work", zap.Int("count", dropped))
	}
}
