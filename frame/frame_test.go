package frame

import "testing"

func TestResumeRunsUntilYield(t *testing.T) {
	var steps []string
	f := Create(func(f *Frame) {
		steps = append(steps, "a")
		f.Yield()
		steps = append(steps, "b")
	}, CreateOpts{StackSize: 16 * 1024})

	f.Resume()
	if len(steps) != 1 || steps[0] != "a" {
		t.Fatalf("steps after first resume = %v", steps)
	}
	if f.IsComplete() {
		t.Fatal("frame should not be complete after yielding")
	}

	f.Resume()
	if len(steps) != 2 || steps[1] != "b" {
		t.Fatalf("steps after second resume = %v", steps)
	}
	if !f.IsComplete() {
		t.Fatal("frame should be complete after entry returns")
	}
}

func TestPanicIsRecoveredAndReported(t *testing.T) {
	f := Create(func(f *Frame) {
		panic("boom")
	}, CreateOpts{})

	f.Resume()
	if !f.IsComplete() {
		t.Fatal("frame should be complete after panicking")
	}
	if f.Panic() != "boom" {
		t.Fatalf("Panic() = %v, want %q", f.Panic(), "boom")
	}
}
