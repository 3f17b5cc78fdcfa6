package grid

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a transient failure is retried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// RetryState is the visible progress of one retried operation.
type RetryState struct {
	Attempt   int
	LastErr   error
	Remaining int
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempt budget runs out. Cancellation is checked before every attempt and
// during the delay. Exhaustion returns an *ItemFailure wrapping the last
// error. The final state is returned in every case.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, st RetryState) error) (RetryState, error) {
	st := RetryState{Remaining: p.attempts()}

	for st.Remaining > 0 {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		st.Attempt++
		st.Remaining--
		err := fn(ctx, st)
		if err == nil {
			st.LastErr = nil
			return st, nil
		}
		st.LastErr = err

		if !IsTransient(err) {
			return st, err
		}
		if st.Remaining == 0 {
			break
		}

		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return st, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return st, &ItemFailure{Attempts: st.Attempt, Err: st.LastErr}
}
