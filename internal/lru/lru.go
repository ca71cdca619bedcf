// Package lru implements the intrusive, MRU-first doubly linked list
// used to order live connections by recent activity: head-insert on
// accept, move-to-front on every successful read or write. It wraps the
// standard library's container/list, which already gives O(1)
// detach/insert-at-front and an iteration order that tolerates removing
// the element currently being visited — exactly what the reactor's
// dispatch loop needs, with no bespoke pointer-chasing to get wrong.
package lru

import "container/list"

// List is an MRU-first list of values of type T.
type List[T any] struct {
	l *list.List
}

// New returns an empty list.
func New[T any]() *List[T] {
	return &List[T]{l: list.New()}
}

// Len returns the number of elements in the list.
func (l *List[T]) Len() int { return l.l.Len() }

// Element is a handle to a value's position in a List, letting the
// owner detach and reinsert itself at the front in O(1) without a
// linear search.
type Element[T any] struct {
	e *list.Element
}

// PushFront inserts v at the head (most recently active) and returns a
// handle the caller should retain for future MoveToFront/Remove calls.
func (l *List[T]) PushFront(v T) *Element[T] {
	return &Element[T]{e: l.l.PushFront(v)}
}

// MoveToFront touches e to the head of the list.
func (l *List[T]) MoveToFront(e *Element[T]) {
	l.l.MoveToFront(e.e)
}

// Remove detaches e from the list and returns its value.
func (l *List[T]) Remove(e *Element[T]) T {
	return l.l.Remove(e.e).(T)
}

// Front returns the most-recently-active element, or nil if the list is
// empty.
func (l *List[T]) Front() *Element[T] {
	if e := l.l.Front(); e != nil {
		return &Element[T]{e: e}
	}
	return nil
}

// Back returns the least-recently-active element, or nil if the list is
// empty.
func (l *List[T]) Back() *Element[T] {
	if e := l.l.Back(); e != nil {
		return &Element[T]{e: e}
	}
	return nil
}

// Next returns the element closer to the tail, or nil at the end. Once
// the receiver has been removed from its list, Next returns nil (the
// standard library clears the element's neighbor pointers on Remove),
// so a walk that may remove the current element captures Next before
// acting on it (the safe-iterator pattern).
func (e *Element[T]) Next() *Element[T] {
	if n := e.e.Next(); n != nil {
		return &Element[T]{e: n}
	}
	return nil
}

// Prev returns the element closer to the head, or nil at the start.
func (e *Element[T]) Prev() *Element[T] {
	if p := e.e.Prev(); p != nil {
		return &Element[T]{e: p}
	}
	return nil
}

// Value returns the element's underlying value.
func (e *Element[T]) Value() T {
	return e.e.Value.(T)
}
