package license

import (
	"time"
)

// DeviceBinding ties one device fingerprint to the activation.
type DeviceBinding struct {
	DeviceID    string    `json:"deviceId"`
	ActivatedAt time.Time `json:"activatedAt"`
	LastUsedAt  time.Time `json:"lastUsedAt"`
}

// Record is the client-local license state persisted by the Store.
type Record struct {
	// CodeRaw keeps the original wire string only when the user opted to
	// remember it.
	CodeRaw  string `json:"activationCodeRaw,omitempty"`
	Remember bool   `json:"remember"`

	// Code is the decoded signed artifact. Keeping the full field set
	// (including the signature) lets local validation re-verify it
	// without the wire string.
	Code Code `json:"code"`

	CreatedAt time.Time  `json:"createdAt"`
	ExpireAt  *time.Time `json:"expireDate,omitempty"`
	ValidDays *int       `json:"validDays,omitempty"`

	// Devices is ordered by first activation, unique by DeviceID. Its
	// length never exceeds Code.MaxDevices, except that re-validation of
	// an already-bound device is always allowed.
	Devices []DeviceBinding `json:"devices"`
}

// NewRecord builds a fresh record from a validated code. previous carries
// forward the device list from an earlier record for the same install.
func NewRecord(code *Code, raw string, remember bool, previous *Record, now time.Time) *Record {
	record := &Record{
		Remember:  remember,
		Code:      *code,
		CreatedAt: now,
		ValidDays: code.ValidDays,
	}
	if remember {
		record.CodeRaw = raw
	}
	if expireAt, ok := code.ExpireAt(); ok {
		record.ExpireAt = &expireAt
	}
	if previous != nil {
		record.Devices = append(record.Devices, previous.Devices...)
	}
	return record
}

// FindDevice returns the binding for the given device id, nil when the
// device is not bound.
func (r *Record) FindDevice(deviceID string) *DeviceBinding {
	for i := range r.Devices {
		if r.Devices[i].DeviceID == deviceID {
			return &r.Devices[i]
		}
	}
	return nil
}

// UpsertDevice refreshes LastUsedAt for a bound device or appends a new
// binding. It reports whether the device was newly added.
func (r *Record) UpsertDevice(deviceID string, now time.Time) bool {
	if binding := r.FindDevice(deviceID); binding != nil {
		binding.LastUsedAt = now
		return false
	}
	r.Devices = append(r.Devices, DeviceBinding{
		DeviceID:    deviceID,
		ActivatedAt: now,
		LastUsedAt:  now,
	})
	return true
}

// DeviceCount returns the number of bound devices.
func (r *Record) DeviceCount() int {
	return len(r.Devices)
}
