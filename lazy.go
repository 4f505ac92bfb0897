package tagger

import (
	"context"
	"sync"
	"sync/atomic"
)

// Lazy holds a value computed on first successful use. Failed loads are not
// cached; the next caller tries again. Concurrent first callers wait for a
// single load rather than each starting their own, and a caller whose
// context ends while waiting gives up with the context's error.
type Lazy[T any] struct {
	init  sync.Once
	sem   chan struct{}
	done  atomic.Bool
	value T
}

// Get returns the cached value or runs load to produce it
func (l *Lazy[T]) Get(ctx context.Context, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if l.done.Load() {
		return l.value, nil
	}

	l.init.Do(func() { l.sem = make(chan struct{}, 1) })
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-l.sem }()

	if l.done.Load() {
		return l.value, nil
	}

	v, err := load(ctx)
	if err != nil {
		return zero, err
	}

	l.value = v
	l.done.Store(true)
	return v, nil
}
