package delivery

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	backoffJitter = 0.25
	backoffMax    = 5 * time.Minute
)

// RetryDelay returns the wait before retrying after the given number of
// prior failed attempts: base * 2^attempts with jitter, capped.
func RetryDelay(base time.Duration, attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = backoffJitter
	eb.MaxInterval = backoffMax
	eb.MaxElapsedTime = 0
	eb.Reset()
	d := eb.NextBackOff()
	for i := 0; i < attempts; i++ {
		d = eb.NextBackOff()
	}
	return d
}
