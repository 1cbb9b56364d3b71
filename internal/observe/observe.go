// Package observe provides a small multicast observer list.
//
// Subscribers are invoked synchronously, in subscription order, by whoever
// calls Notify. Callers that need a single dispatch context (see the
// dispatch package) call Notify from that context.
package observe

import "sync"

type subscriber[T any] struct {
	id int
	fn func(T)
}

// List is a set of callbacks interested in values of type T.
// The zero value is ready to use.
type List[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

// Subscribe registers fn and returns a function that removes it.
// The returned function is idempotent.
func (l *List[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs = append(l.subs, subscriber[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *List[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

// Notify delivers v to every current subscriber. The subscriber set is
// snapshotted first, so callbacks may subscribe or unsubscribe freely.
func (l *List[T]) Notify(v T) {
	l.mu.Lock()
	subs := make([]subscriber[T], len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
