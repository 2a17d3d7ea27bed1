package license

import (
	"context"
	"time"

	"actikey/internal/fingerprint"
)

// TimeProvider supplies the trustworthy current time used for
// expiration checks. Implemented by securetime.Provider.
type TimeProvider interface {
	CurrentTime(ctx context.Context) (time.Time, error)
	ResetCheckpoint() error
}

// DeviceIdentifier supplies the stable device identity used for
// binding. Implemented by fingerprint.Manager.
type DeviceIdentifier interface {
	DeviceID() (string, error)
	Generate() (*fingerprint.Device, error)
}
