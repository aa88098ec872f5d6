package ring

import (
	"sync"
	"testing"
)

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, cap := range []uint64{0, 1, 3, 5, 6}{
		if _, err := New[int](cap); err == nil {
			t.Errorf("New(%d) succeeded, want ErrInvalidCapacity", cap)
		}
	}
	for _, cap := range []uint64{2, 4, 8, 1024} {
		if _, err := New[int](cap); err != nil {
			t.Errorf("New(%d) = %v, want nil error", cap, err)
		}
	}
}

func TestPushPopOrder(t *testing.T) {
	r, err := New[int](8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !r.Empty() {
		t.Fatal("new ring should be empty")
	}
	for i := 0; i < 8; i++ {
		if err := r.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if err := r.Push(99); err != ErrFull {
		t.Errorf("Push on full ring = %v, want ErrFull", err)
	}
	for i := 0; i < 8; i++ {
		got, ok := r.Pop()
		if !ok {
			t.Fatalf("Pop() ok=false at i=%d", i)
		}
		if got != i {
			t.Errorf("Pop() = %d, want %d", got, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("Pop() on empty ring returned ok=true")
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const n = 1_000_000
	r, err := New[int](1024)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if err := r.Push(i); err == nil {
				i++
			}
		}
	}()

	go func() {
		defer wg.Done()
		want := 0
		for want < n {
			got, ok := r.Pop()
			if !ok {
				continue
			}
			if got != want {
				t.Errorf("Pop() = %d, want %d", got, want)
				return
			}
			want++
		}
	}()

	wg.Wait()
}
