package lru

import "testing"

func TestPushFrontOrdersMRUFirst(t *testing.T) {
	l := New[int]()
	l.PushFront(1)
	l.PushFront(2)
	l.PushFront(3)

	var got []int
	for e := l.Front(); e != nil; e = e.Next() {
		got = append(got, e.Value())
	}
	want := []int{3, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMoveToFrontTouchesElement(t *testing.T) {
	l := New[string]()
	a := l.PushFront("a")
	l.PushFront("b")
	l.PushFront("c")

	l.MoveToFront(a)
	if l.Front().Value() != "a" {
		t.Fatalf("Front() = %q, want %q", l.Front().Value(), "a")
	}
	if l.Back().Value() != "b" {
		t.Fatalf("Back() = %q, want %q", l.Back().Value(), "b")
	}
}

func TestRemoveDetaches(t *testing.T) {
	l := New[int]()
	a := l.PushFront(1)
	b := l.PushFront(2)

	v := l.Remove(a)
	if v != 1 {
		t.Fatalf("Remove returned %d, want 1", v)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
	if l.Front().e != l.Back().e || l.Front().Value() != 2 {
		t.Fatalf("expected single remaining element with value 2")
	}
	_ = b
}

func TestSafeIteratorSurvivesRemovalOfCurrent(t *testing.T) {
	l := New[int]()
	e1 := l.PushFront(1)
	e2 := l.PushFront(2)
	e3 := l.PushFront(3)
	_ = e1

	var visited []int
	for e := l.Front(); e != nil; {
		next := e.Next()
		visited = append(visited, e.Value())
		if e.Value() == 2 {
			l.Remove(e2)
		}
		e = next
	}

	want := []int{3, 2, 1}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}
	_ = e3
}

func TestPrevWalksTowardHead(t *testing.T) {
	l := New[int]()
	l.PushFront(1)
	l.PushFront(2)
	l.PushFront(3)

	back := l.Back()
	if back.Value() != 1 {
		t.Fatalf("Back() = %d, want 1", back.Value())
	}
	mid := back.Prev()
	if mid.Value() != 2 {
		t.Fatalf("Prev() = %d, want 2", mid.Value())
	}
	front := mid.Prev()
	if front.Value() != 3 {
		t.Fatalf("Prev() = %d, want 3", front.Value())
	}
	if front.Prev() != nil {
		t.Fatalf("expected nil Prev() at head")
	}
}

func TestEmptyList(t *testing.T) {
	l := New[int]()
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
	if l.Front() != nil || l.Back() != nil {
		t.Fatalf("expected nil Front/Back on empty list")
	}
}
