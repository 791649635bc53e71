package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalesces(t *testing.T) {
	var calls atomic.Int32
	d := New(50*time.Millisecond, 0, func() { calls.Add(1) })

	for i := 0; i < 10; i++ {
		d.Call()
	}
	time.Sleep(120 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestDebouncerSpacedCalls(t *testing.T) {
	var calls atomic.Int32
	d := New(30*time.Millisecond, 0, func() { calls.Add(1) })

	d.Call()
	time.Sleep(80 * time.Millisecond)
	d.Call()
	time.Sleep(80 * time.Millisecond)

	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestDebouncerMaxWait(t *testing.T) {
	var calls atomic.Int32
	d := New(40*time.Millisecond, 100*time.Millisecond, func() { calls.Add(1) })

	// Keep calling faster than the quantum; without max-wait this would
	// never fire.
	deadline := time.Now().Add(220 * time.Millisecond)
	for time.Now().Before(deadline) {
		d.Call()
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(80 * time.Millisecond)

	if calls.Load() < 2 {
		t.Errorf("calls = %d, want at least 2 forced fires under continuous activity", calls.Load())
	}
}

func TestDebouncerFlush(t *testing.T) {
	var calls atomic.Int32
	d := New(time.Hour, 0, func() { calls.Add(1) })

	d.Call()
	d.Flush()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 immediately after flush", calls.Load())
	}
	if d.IsPending() {
		t.Error("still pending after flush")
	}

	// Flush with nothing pending is a no-op.
	d.Flush()
	if calls.Load() != 1 {
		t.Errorf("calls = %d after idle flush, want 1", calls.Load())
	}
}

func TestDebouncerCancel(t *testing.T) {
	var calls atomic.Int32
	d := New(30*time.Millisecond, 0, func() { calls.Add(1) })

	d.Call()
	d.Cancel()
	time.Sleep(80 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0 after cancel", calls.Load())
	}
}
