// README: Retry delay strategies for failed sync items.
package syncqueue

import "time"

type Backoff interface {
	// Delay is the wait before the next attempt after retryCount failures.
	Delay(retryCount int) time.Duration
}

// LinearBackoff waits retryCount * Step.
type LinearBackoff struct {
	Step time.Duration
}

func (b LinearBackoff) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	return time.Duration(retryCount) * b.Step
}

// ExponentialBackoff waits Base * 2^(retryCount-1), capped at Max when Max > 0.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b ExponentialBackoff) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

func NewBackoff(kind string, step, max time.Duration) Backoff {
	if kind == "exponential" {
		return ExponentialBackoff{Base: step, Max: max}
	}
	return LinearBackoff{Step: step}
}
