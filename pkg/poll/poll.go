package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// Policy describes how long a poll loop may run: a hard attempt ceiling
// plus an exponential delay bounded by Max.
type Policy struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
	Factor      float64
}

// DefaultPolicy matches the assistant run protocol: 500ms base, 1.5x
// growth capped at 5s, at most 7 status checks.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 7,
		Min:         500 * time.Millisecond,
		Max:         5 * time.Second,
		Factor:      1.5,
	}
}

// ExhaustedError is returned when every attempt completed without the
// condition being met.
type ExhaustedError struct {
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("poll exhausted after %d attempts", e.Attempts)
}

// Func is called once per attempt (1-based). Returning done=true stops
// the loop successfully; a non-nil error stops it immediately.
type Func func(attempt int) (done bool, err error)

// Poller runs a Func under a Policy. The sleep function is injectable so
// tests can run without real delays.
type Poller struct {
	policy Policy
	sleep  func(time.Duration)
}

func New(policy Policy) *Poller {
	return &Poller{policy: policy, sleep: time.Sleep}
}

// NewWithSleep is used by tests to capture delays instead of sleeping.
func NewWithSleep(policy Policy, sleep func(time.Duration)) *Poller {
	return &Poller{policy: policy, sleep: sleep}
}

// Until polls fn until it reports done, fails, the context is cancelled,
// or MaxAttempts is reached. The delay before attempt n+1 is taken from
// the backoff sequence, so delays are non-decreasing and capped at Max.
func (p *Poller) Until(ctx context.Context, fn Func) error {
	b := &backoff.Backoff{
		Min:    p.policy.Min,
		Max:    p.policy.Max,
		Factor: p.policy.Factor,
		Jitter: false,
	}

	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := fn(attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if attempt < p.policy.MaxAttempts {
			p.sleep(b.Duration())
		}
	}

	return &ExhaustedError{Attempts: p.policy.MaxAttempts}
}
