package securetime

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"actikey/internal/errors"
)

// Provider composes the network time source with the tamper guard to
// produce a trustworthy current time. Network acquisition is attempted
// first; the local clock is the fallback. Either path goes through the
// guard, so a network result does not bypass rollback detection.
type Provider struct {
	source  *NetworkTimeSource
	guard   *Guard
	timeout time.Duration

	group singleflight.Group

	// now is the local clock, overridable in tests.
	now func() time.Time
}

// NewProvider wires a provider with an overall network timeout.
func NewProvider(source *NetworkTimeSource, guard *Guard, timeout time.Duration) *Provider {
	return &Provider{
		source:  source,
		guard:   guard,
		timeout: timeout,
		now:     time.Now,
	}
}

type timeResult struct {
	now     time.Time
	network bool
}

// CurrentTime returns the current time after tamper checks. Concurrent
// callers share a single acquisition. A TIME_TAMPERED error is fatal for
// the caller's validation attempt; network unavailability is handled
// internally by falling back to the local clock.
func (p *Provider) CurrentTime(ctx context.Context) (time.Time, error) {
	v, err, _ := p.group.Do("now", func() (interface{}, error) {
		return p.acquire(ctx)
	})
	if err != nil {
		return time.Time{}, err
	}
	res := v.(timeResult)
	return res.now, nil
}

func (p *Provider) acquire(ctx context.Context) (timeResult, error) {
	netCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	candidate, err := p.source.CurrentTime(netCtx)
	networkConfirmed := err == nil
	if err != nil {
		candidate = p.now()
		slog.Debug("network time unavailable, falling back to local clock",
			slog.Time("local", candidate),
			slog.String("error", err.Error()),
		)
	}

	if err := p.guard.Check(candidate, networkConfirmed); err != nil {
		if errors.CodeOf(err) == errors.CodeTimeTampered {
			return timeResult{}, err
		}
		// Checkpoint persistence problems degrade rollback detection but
		// do not invalidate the accepted time.
		slog.Warn("time checkpoint update failed",
			slog.String("error", err.Error()),
		)
	}

	return timeResult{now: candidate, network: networkConfirmed}, nil
}

// ResetCheckpoint clears the persisted tamper checkpoint.
func (p *Provider) ResetCheckpoint() error {
	return p.guard.Reset()
}
