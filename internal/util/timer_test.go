package util

import (
	"testing"
	"time"
)

func TestTimer(t *testing.T) {
	var zero Timer
	if zero.Elapsed() != 0 || zero.ElapsedMs() != 0 {
		t.Fatalf("zero timer should report no elapsed time")
	}

	timer := StartTimer()
	time.Sleep(5 * time.Millisecond)
	if timer.Elapsed() < 5*time.Millisecond {
		t.Fatalf("expected at least 5ms, got %v", timer.Elapsed())
	}
	if timer.ElapsedMs() < 5 {
		t.Fatalf("expected at least 5ms, got %d", timer.ElapsedMs())
	}
}
