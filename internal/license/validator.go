package license

import (
	"context"
	"crypto/rsa"
	"time"

	"actikey/internal/errors"
)

// ExpiryStatus is a non-authoritative "days left" figure for UI warnings.
// It is computed from the local clock and never fails; authoritative
// expiration enforcement happens in Validate.
type ExpiryStatus struct {
	Permanent bool `json:"permanent"`
	Expired   bool `json:"expired"`
	DaysLeft  int  `json:"days_left"`
	// Warning is set when the code expires within the configured window.
	Warning bool `json:"warning"`
}

// Validator applies the full validation pipeline to activation codes:
// decode, signature, expiration, device policy.
type Validator struct {
	pub         *rsa.PublicKey
	devices     DeviceIdentifier
	time        TimeProvider
	warningDays int

	// now backs CheckExpiration; overridable in tests.
	now func() time.Time
}

// NewValidator wires a validator with the embedded public key, device
// identity and secure time provider.
func NewValidator(pub *rsa.PublicKey, devices DeviceIdentifier, timeProvider TimeProvider, warningDays int) *Validator {
	return &Validator{
		pub:         pub,
		devices:     devices,
		time:        timeProvider,
		warningDays: warningDays,
		now:         time.Now,
	}
}

// Validate runs the pipeline over a wire string against the existing
// record, if any. On success it returns the decoded code. Every failure
// carries a taxonomy code; signature verification is never skipped or
// softened.
func (v *Validator) Validate(ctx context.Context, raw string, existing *Record) (*Code, error) {
	code, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	if !Verify(code, v.pub) {
		return nil, errors.ErrInvalidSignature
	}

	if err := v.checkNotExpired(ctx, code); err != nil {
		return nil, err
	}

	if existing != nil {
		deviceID, err := v.devices.DeviceID()
		if err != nil {
			return nil, errors.Wrap(errors.CodeStorageIO, "failed to identify this device", err)
		}
		// A bound device always revalidates; only new devices count
		// against the limit.
		if existing.FindDevice(deviceID) == nil && existing.DeviceCount() >= code.MaxDevices {
			return nil, errors.Newf(errors.CodeDeviceLimitExceeded,
				"activation code allows %d devices and %d are already registered",
				code.MaxDevices, existing.DeviceCount(),
			)
		}
	}

	return code, nil
}

// ValidateLocal re-validates a stored record's embedded code and
// additionally requires the current device to already be bound. A record
// that does not list this device cannot authorize this machine, and that
// is reported as not-registered even when the record is also at its
// device limit; the limit policy only governs admitting new devices, so
// it is skipped here in favor of the membership requirement.
func (v *Validator) ValidateLocal(ctx context.Context, record *Record) (*Code, error) {
	if record == nil {
		return nil, errors.ErrNotActivated
	}

	raw, err := Encode(&record.Code)
	if err != nil {
		return nil, err
	}

	code, err := v.Validate(ctx, raw, nil)
	if err != nil {
		return nil, err
	}

	deviceID, err := v.devices.DeviceID()
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageIO, "failed to identify this device", err)
	}
	if record.FindDevice(deviceID) == nil {
		return nil, errors.ErrDeviceNotRegistered
	}

	return code, nil
}

// CheckExpiration reports how close the code is to expiring. It uses the
// local clock only and never fails; callers must not use it for
// enforcement.
func (v *Validator) CheckExpiration(code *Code) ExpiryStatus {
	expireAt, ok := code.ExpireAt()
	if !ok {
		return ExpiryStatus{Permanent: true}
	}

	remaining := expireAt.Sub(v.now())
	daysLeft := int(remaining / (24 * time.Hour))
	if remaining < 0 {
		return ExpiryStatus{Expired: true}
	}
	return ExpiryStatus{
		DaysLeft: daysLeft,
		Warning:  daysLeft <= v.warningDays,
	}
}

// checkNotExpired enforces the expiration policy with the secure time
// provider. Permanent codes always pass.
func (v *Validator) checkNotExpired(ctx context.Context, code *Code) error {
	expireAt, ok := code.ExpireAt()
	if !ok {
		return nil
	}

	now, err := v.time.CurrentTime(ctx)
	if err != nil {
		return err
	}

	if now.After(expireAt) {
		overdue := now.Sub(expireAt)
		overdueDays := int(overdue / (24 * time.Hour))
		if overdue%(24*time.Hour) > 0 {
			overdueDays++
		}
		return errors.Newf(errors.CodeExpired,
			"activation code expired %d day(s) ago", overdueDays)
	}
	return nil
}
