package scheduler

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// slot is the concurrency slot held by one running job. It is only touched
// by the goroutine running that job.
type slot struct {
	sem  *semaphore.Weighted
	held bool
}

type slotKey struct{}

func withSlot(ctx context.Context, sl *slot) context.Context {
	return context.WithValue(ctx, slotKey{}, sl)
}

func (sl *slot) release() {
	if sl.held {
		sl.sem.Release(1)
		sl.held = false
	}
}

// yieldSlot runs wait with the caller's slot given back to its lane, then
// takes a slot again. Outside a scheduled job it just runs wait.
func yieldSlot(ctx context.Context, wait func() error) error {
	sl, ok := ctx.Value(slotKey{}).(*slot)
	if !ok || !sl.held {
		return wait()
	}

	sl.release()
	err := wait()

	if aerr := sl.sem.Acquire(ctx, 1); aerr != nil {
		if err == nil {
			err = aerr
		}
		return err
	}
	sl.held = true
	return err
}
