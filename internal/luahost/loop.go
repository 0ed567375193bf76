package luahost

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

// ErrLoopStopped is returned by Do once the loop has stopped.
var ErrLoopStopped = errors.New("lua loop stopped")

// WorkItem represents a unit of work for the loop goroutine.
type WorkItem struct {
	fn     func() (any, error)
	result chan WorkResult
}

// WorkResult holds the result of a work item.
type WorkResult struct {
	Value any
	Err   error
}

// Loop owns the goroutine every attached runtime runs on. The goroutine is
// locked to its OS thread, so native callbacks made from it stay on the
// Lua thread. Attached runtimes get a Frame call on every tick.
type Loop struct {
	interval time.Duration
	work     chan WorkItem
	done     chan struct{}
	finished chan struct{}
	start    sync.Once
	stopOnce sync.Once
	log      *logiface.Logger[logiface.Event]

	// touched only on the loop goroutine
	runtimes []*Runtime
}

// NewLoop creates a loop ticking every interval. Start must be called before Do.
func NewLoop(interval time.Duration, log *logiface.Logger[logiface.Event]) *Loop {
	if interval <= 0 {
		interval = time.Second / 30
	}
	return &Loop{
		interval: interval,
		work:     make(chan WorkItem, 100),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		log:      log,
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	l.start.Do(func() { go l.run() })
}

func (l *Loop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.finished)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			l.closeAll()
			return
		case work := <-l.work:
			result, err := l.protect(work.fn)
			work.result <- WorkResult{Value: result, Err: err}
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) protect(fn func() (any, error)) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p}
		}
	}()
	return fn()
}

func (l *Loop) tick() {
	for _, rt := range slices.Clone(l.runtimes) {
		if rt.Closed() {
			continue
		}
		if err := rt.Frame(); err != nil {
			l.log.Err().Int("frame", rt.FrameCount()).Err(err).Log("luahost: frame failed")
		}
	}
}

func (l *Loop) closeAll() {
	for i := len(l.runtimes) - 1; i >= 0; i-- {
		l.runtimes[i].Close()
	}
	l.runtimes = nil
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (l *Loop) Do(fn func() (any, error)) (any, error) {
	result := make(chan WorkResult, 1)
	select {
	case l.work <- WorkItem{fn: fn, result: result}:
	case <-l.finished:
		return nil, ErrLoopStopped
	}
	select {
	case res := <-result:
		return res.Value, res.Err
	case <-l.finished:
		return nil, ErrLoopStopped
	}
}

// Attach adds rt to the frame cadence. It must be called on the loop goroutine.
func (l *Loop) Attach(rt *Runtime) {
	if !slices.Contains(l.runtimes, rt) {
		l.runtimes = append(l.runtimes, rt)
	}
}

// Detach removes rt from the frame cadence and closes it. It must be called
// on the loop goroutine.
func (l *Loop) Detach(rt *Runtime) {
	l.runtimes = slices.DeleteFunc(l.runtimes, func(x *Runtime) bool { return x == rt })
	rt.Close()
}

// Stop closes every attached runtime and stops the loop goroutine.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
	l.start.Do(func() { close(l.finished) })
	<-l.finished
}

// PanicError wraps a panic raised by work run on the loop.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic on lua loop: %v", e.Value)
}
