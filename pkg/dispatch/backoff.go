package dispatch

import "time"

const (
	backoffBase = 10 * time.Second
	backoffCap  = 5 * time.Minute
)

// retryBackoff returns the wait before the next attempt after attemptNo
// failures: 10s, 20s, 40s, ... capped at 5 minutes.
func retryBackoff(attemptNo int) time.Duration {
	d := backoffBase
	for i := 1; i < attemptNo; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
