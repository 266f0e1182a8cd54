package account

import (
	"context"
	"time"
)

// Clock abstracts time so that readiness polling can be tested without
// sleeping. Implementations must be safe for concurrent use.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d or until ctx ends, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock uses the standard library timer.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep waits for d or ctx.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Observer receives lifecycle events, typically to feed metrics.
type Observer interface {
	Overwrite()
	ReadinessPoll()
}

type nopObserver struct{}

func (nopObserver) Overwrite()     {}
func (nopObserver) ReadinessPoll() {}

// ResetObserver is optionally implemented by an Observer that needs to know
// when the account directory has been recreated, for example to reopen files
// that lived inside it.
type ResetObserver interface {
	AccountReset()
}
