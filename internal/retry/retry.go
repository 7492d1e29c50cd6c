// Package retry implements the bounded exponential backoff used by
// network-dependent pipeline stages (debootstrap, package installs,
// asset downloads), grounded on mantle/util.RetryConditional's
// attempt-and-delay loop but doubling the delay between attempts and
// capping it, per the build pipeline's network failure policy.
package retry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Backoff describes an exponential retry schedule.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// Default is the pipeline's network retry policy: 3 attempts,
// doubling from a 2s base, capped at 30s.
var Default = Backoff{
	Attempts: 3,
	Base:     2 * time.Second,
	Cap:      30 * time.Second,
}

// Do calls f until it succeeds or the attempt budget is exhausted,
// sleeping for an exponentially increasing delay between attempts.
// The last error is returned if every attempt fails. ctx cancellation
// aborts the wait between attempts immediately.
func (b Backoff) Do(ctx context.Context, entry *log.Entry, f func() error) error {
	var err error
	delay := b.Base
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if entry != nil {
			entry.WithError(err).WithField("attempt", attempt).Warn("operation failed, will retry")
		}
		if attempt == b.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > b.Cap {
			delay = b.Cap
		}
	}
	return err
}
