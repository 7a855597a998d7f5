package util

import (
	"sync"
	"testing"
)

// TestStackOrder verifies LIFO ordering through Push/Pop/Peek.
func TestStackOrder(t *testing.T) {
	s := &Stack[int]{}
	if _, ok := s.Pop(); ok {
		t.Fatal("Pop on empty stack reported ok")
	}
	for i := 1; i <= 3; i++ {
		s.Push(i)
	}
	if got := s.Size(); got != 3 {
		t.Fatalf("Size = %d, want 3", got)
	}
	if top, _ := s.Peek(); top != 3 {
		t.Fatalf("Peek = %d, want 3", top)
	}
	for want := 3; want >= 1; want-- {
		got, ok := s.Pop()
		if !ok || got != want {
			t.Fatalf("Pop = %d,%v, want %d,true", got, ok, want)
		}
	}
	if got := s.Size(); got != 0 {
		t.Fatalf("Size after draining = %d, want 0", got)
	}
}

// TestStackGet verifies the top-down, 1-indexed addressing contract:
// Get(1) is the top, Get(Size()) the bottom.
func TestStackGet(t *testing.T) {
	s := &Stack[string]{}
	s.Push("bottom")
	s.Push("middle")
	s.Push("top")

	cases := []struct {
		n    int
		want string
		ok   bool
	}{
		{1, "top", true},
		{2, "middle", true},
		{3, "bottom", true},
		{0, "", false},
		{4, "", false},
	}
	for _, c := range cases {
		got, ok := s.Get(c.n)
		if ok != c.ok || got != c.want {
			t.Errorf("Get(%d) = %q,%v, want %q,%v", c.n, got, ok, c.want, c.ok)
		}
	}
}

// TestStackEach verifies bottom-to-top traversal without mutation.
func TestStackEach(t *testing.T) {
	s := &Stack[int]{}
	for i := 1; i <= 4; i++ {
		s.Push(i)
	}
	var seen []int
	s.Each(func(v int) { seen = append(seen, v) })
	for i, v := range seen {
		if v != i+1 {
			t.Fatalf("Each order = %v, want ascending from 1", seen)
		}
	}
	if s.Size() != 4 {
		t.Fatalf("Each mutated the stack: size %d", s.Size())
	}
}

// TestSeqCounterMonotonic verifies strict monotonicity under concurrency.
func TestSeqCounterMonotonic(t *testing.T) {
	c := &SeqCounter{}
	const workers, per = 8, 1000
	var mu sync.Mutex
	seen := make(map[int64]bool, workers*per)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < per; j++ {
				n := c.Next()
				mu.Lock()
				if seen[n] {
					t.Errorf("sequence number %d handed out twice", n)
				}
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("got %d distinct numbers, want %d", len(seen), workers*per)
	}
}
