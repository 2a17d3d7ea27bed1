// Package securetime produces a trustworthy "now" for expiration checks.
// It combines remote time lookup with a persisted checkpoint that detects
// local clock rollback.
package securetime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"actikey/internal/errors"
)

// yearSkewTolerance bounds how far a remote source's year may differ from
// the local clock's year before the reading is treated as implausible.
// This guards against a single compromised or misbehaving endpoint.
const yearSkewTolerance = 2

// NetworkTimeSource fetches the current time from an ordered list of
// independent HTTPS endpoints by reading their Date response headers.
type NetworkTimeSource struct {
	sources []string
	timeout time.Duration
	client  *http.Client

	// now supplies the local clock used for the plausibility check.
	// Overridable in tests.
	now func() time.Time
}

// NewNetworkTimeSource creates a source list with a per-source timeout.
func NewNetworkTimeSource(sources []string, timeout time.Duration) *NetworkTimeSource {
	return &NetworkTimeSource{
		sources: sources,
		timeout: timeout,
		client:  &http.Client{},
		now:     time.Now,
	}
}

// CurrentTime tries each source in order and returns the first plausible
// reading. It fails with a NETWORK_TIME_UNAVAILABLE error when every
// source is unreachable or implausible.
func (s *NetworkTimeSource) CurrentTime(ctx context.Context) (time.Time, error) {
	var lastErr error
	for _, source := range s.sources {
		remote, err := s.fetch(ctx, source)
		if err != nil {
			lastErr = err
			slog.Debug("time source failed",
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
			continue
		}

		if !s.plausible(remote) {
			slog.Warn("time source returned implausible time",
				slog.String("source", source),
				slog.Time("remote", remote),
				slog.Time("local", s.now()),
			)
			continue
		}

		slog.Debug("network time acquired",
			slog.String("source", source),
			slog.Time("remote", remote),
		)
		return remote, nil
	}

	return time.Time{}, errors.Wrap(errors.CodeTimeUnavailable, "all time sources failed", lastErr)
}

// fetch issues a HEAD request and parses the standard Date header.
func (s *NetworkTimeSource) fetch(ctx context.Context, source string) (time.Time, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, source, nil)
	if err != nil {
		return time.Time{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()

	date := resp.Header.Get("Date")
	if date == "" {
		return time.Time{}, errors.Newf(errors.CodeTimeUnavailable, "source %s sent no Date header", source)
	}

	return http.ParseTime(date)
}

func (s *NetworkTimeSource) plausible(remote time.Time) bool {
	localYear := s.now().Year()
	diff := remote.Year() - localYear
	if diff < 0 {
		diff = -diff
	}
	return diff <= yearSkewTolerance
}
