package clock

import (
	"context"
	"time"
)

// Clock abstracts time for the driver's polling loops so debounce and
// deadline logic can be tested without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// System returns the wall-clock implementation.
func System() Clock { return systemClock{} }
