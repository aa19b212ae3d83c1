package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()

	var flag atomic.Bool
	go func() {
		time.Sleep(30 * time.Millisecond)
		flag.Store(true)
	}()

	if !WaitFor(t, flag.Load, WithTimeout(time.Second), WithInterval(5*time.Millisecond)) {
		t.Error("condition should have been met")
	}
}

func TestWaitForTimeout(t *testing.T) {
	t.Parallel()

	met := WaitFor(t, func() bool { return false }, WithTimeout(50*time.Millisecond), WithInterval(5*time.Millisecond))
	if met {
		t.Error("condition should have timed out")
	}
}
