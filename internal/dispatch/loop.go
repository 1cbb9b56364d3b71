// Package dispatch serializes state mutation onto a single goroutine.
//
// Every mutation of session, write-mode and per-secret state runs as a
// function on a Loop, and every observer notification is raised from it.
// Long-running work (token acquisition, vault calls) happens on the
// caller's goroutine and marshals its result back with Do.
//
// Functions executing on the loop must never call Do on the same loop;
// they would wait on themselves.
package dispatch

import "sync"

// DefaultQueueSize is the number of pending functions a Loop buffers.
const DefaultQueueSize = 256

// Loop runs posted functions one at a time, in post order, on a single
// worker goroutine.
type Loop struct {
	queue  chan func()
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// New starts a loop. If queueSize is not positive, DefaultQueueSize is used.
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	l := &Loop{
		queue: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.worker()
	return l
}

// Post queues fn without waiting for it to run.
// It returns false if the loop has been closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.queue <- fn
	return true
}

// Do runs fn on the loop and waits for it to finish. A panic inside fn is
// re-raised on the calling goroutine. Do returns false, without running fn,
// if the loop has been closed.
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	var panicked any
	ok := l.Post(func() {
		defer close(finished)
		defer func() { panicked = recover() }()
		fn()
	})
	if !ok {
		return false
	}
	<-finished
	if panicked != nil {
		panic(panicked)
	}
	return true
}

// Close stops accepting work, runs everything already queued and waits for
// the worker to exit. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
}

func (l *Loop) worker() {
	defer l.wg.Done()

	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-l.done:
			l.drain()
			return
		}
	}
}

// drain runs whatever was queued before Close took the write lock.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.queue:
			fn()
		default:
			return
		}
	}
}
