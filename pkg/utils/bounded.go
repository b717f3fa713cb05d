package utils

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCapacity is returned when appending to a full BoundedList.
var ErrCapacity = errors.New("capacity exceeded")

// BoundedList is an append-only list with a fixed capacity. The backing
// array is allocated once; appending past the capacity fails instead of
// growing.
type BoundedList[T any] struct {
	mu    sync.Mutex
	items []T
	n     int
}

func NewBoundedList[T any](capacity int) *BoundedList[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &BoundedList[T]{items: make([]T, capacity)}
}

// Append adds v and returns its index.
func (l *BoundedList[T]) Append(v T) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.n >= len(l.items) {
		return -1, fmt.Errorf("%w: list holds at most %d items", ErrCapacity, len(l.items))
	}
	l.items[l.n] = v
	l.n++
	return l.n - 1, nil
}

// Set replaces an item that was already appended.
func (l *BoundedList[T]) Set(i int, v T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i < 0 || i >= l.n {
		return fmt.Errorf("index %d out of range [0,%d)", i, l.n)
	}
	l.items[i] = v
	return nil
}

func (l *BoundedList[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

func (l *BoundedList[T]) Cap() int {
	return len(l.items)
}

func (l *BoundedList[T]) Full() bool {
	return l.Len() >= l.Cap()
}

// Items returns a copy of the appended items in order.
func (l *BoundedList[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]T, l.n)
	copy(out, l.items[:l.n])
	return out
}
