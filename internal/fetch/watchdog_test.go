package fetch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWatchdogZeroTimeoutNeverFires(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	wd := newWatchdog(cancel, 0)
	wd.kick()
	wd.stop()

	select {
	case <-ctx.Done():
		t.Fatal("disabled watchdog cancelled the context")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchdogFiresAfterInactivity(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	wd := newWatchdog(cancel, 20*time.Millisecond)
	defer wd.stop()

	select {
	case <-ctx.Done():
		if !errors.Is(context.Cause(ctx), ErrStalled) {
			t.Errorf("cause = %v, want ErrStalled", context.Cause(ctx))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never fired")
	}
}

func TestWatchdogKickDefersFiring(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	wd := newWatchdog(cancel, 80*time.Millisecond)
	defer wd.stop()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		wd.kick()
		select {
		case <-ctx.Done():
			t.Fatal("watchdog fired despite activity")
		default:
		}
	}
}
