// Package retry runs an operation against contended shared records. Version
// conflicts are expected under concurrent mission processing, so the loop
// retries them with jittered backoff; anything else aborts immediately.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Outcome tags how a Do loop ended. Callers must branch on it: Exhausted
// means the write never landed and the caller owns the fallback.
type Outcome int

const (
	Success Outcome = iota
	Exhausted
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Exhausted:
		return "exhausted"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Result reports the final outcome, the number of attempts consumed and the
// last error seen (nil on success).
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// Do invokes fn up to attempts times. After a failed attempt the transient
// predicate decides: true sleeps a random interval in [min, max) and tries
// again, false aborts with the error as-is. Context cancellation aborts too.
func Do(ctx context.Context, attempts int, min, max time.Duration, fn func(context.Context) error, transient func(error) bool) Result {
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: Aborted, Attempts: i - 1, Err: err}
		}
		last = fn(ctx)
		if last == nil {
			return Result{Outcome: Success, Attempts: i}
		}
		if !transient(last) {
			return Result{Outcome: Aborted, Attempts: i, Err: last}
		}
		if i == attempts {
			break
		}
		if err := sleep(ctx, jitter(min, max)); err != nil {
			return Result{Outcome: Aborted, Attempts: i, Err: err}
		}
	}
	return Result{Outcome: Exhausted, Attempts: attempts, Err: last}
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
