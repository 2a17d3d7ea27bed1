package license

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actikey/internal/errors"
)

// newTestManager builds a manager over the given store dir, simulating
// one machine with its own device id and clock. Sharing a dir between
// managers simulates a record file moved between machines.
func newTestManager(t *testing.T, issuer *testIssuer, dir, deviceID string, now time.Time) (*Manager, *fakeClock) {
	t.Helper()

	clock := &fakeClock{current: now}
	device := &fakeDevice{id: deviceID}
	store := NewStore(filepath.Join(dir, "activation.dat"), filepath.Join(dir, "activation.key"))

	validator := NewValidator(issuer.pub, device, clock, 30)
	validator.now = func() time.Time { return clock.current }

	mgr := NewManager(store, validator, device, clock,
		WithAttemptLimit(100, 100),
	)
	return mgr, clock
}

func TestInitializeWithoutRecord(t *testing.T) {
	issuer := newTestIssuer(t)
	mgr, _ := newTestManager(t, issuer, t.TempDir(), "device-a", time.Now().UTC())

	res := mgr.Initialize(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, StateNotActivated, res.State)
	assert.False(t, mgr.IsActivated())
	assert.NoError(t, mgr.LastError())
}

func TestActivateHappyPath(t *testing.T) {
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, days(30), t0)

	mgr, _ := newTestManager(t, issuer, t.TempDir(), "device-a", t0.Add(24*time.Hour))

	var events []Event
	unsubscribe := mgr.Subscribe(func(e Event) { events = append(events, e) })
	defer unsubscribe()

	res := mgr.Activate(context.Background(), raw, true)
	require.True(t, res.Success, "activation failed: %v", mgr.LastError())
	assert.Equal(t, StateActivated, res.State)
	assert.True(t, mgr.IsActivated())

	info := mgr.GetActivationInfo()
	assert.Equal(t, StateActivated, info.State)
	assert.Equal(t, 2, info.MaxDevices)
	assert.Equal(t, 1, info.DeviceCount)
	assert.True(t, info.Remembered)
	require.NotNil(t, info.ExpireAt)
	assert.True(t, info.ExpireAt.Equal(t0.Add(30*24*time.Hour)))

	require.Len(t, events, 1)
	assert.Equal(t, EventActivated, events[0].Type)
	assert.Equal(t, 1, events[0].DeviceCount)
	assert.Equal(t, 2, events[0].MaxDevices)
}

func TestActivateRejectsBadCodes(t *testing.T) {
	issuer := newTestIssuer(t)
	attacker := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, forged := attacker.issue(t, 2, days(30), t0)
	_, expired := issuer.issue(t, 2, days(1), t0.AddDate(0, -1, 0))

	tests := []struct {
		name string
		raw  string
		code errors.Code
	}{
		{name: "malformed", raw: "not a code", code: errors.CodeMalformedCode},
		{name: "forged", raw: forged, code: errors.CodeInvalidSignature},
		{name: "expired", raw: expired, code: errors.CodeExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, _ := newTestManager(t, issuer, t.TempDir(), "device-a", t0)

			res := mgr.Activate(context.Background(), tt.raw, true)
			assert.False(t, res.Success)
			assert.Equal(t, tt.code, errors.CodeOf(res.Err))
			assert.False(t, mgr.IsActivated())
		})
	}
}

func TestActivationLifecycleAcrossDevices(t *testing.T) {
	// Three machines sharing one record file (a copied install dir),
	// against a 2-device 30-day code.
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, days(30), t0)
	dir := t.TempDir()
	ctx := context.Background()

	// Device A activates at T0+1d.
	mgrA, _ := newTestManager(t, issuer, dir, "device-a", t0.Add(24*time.Hour))
	require.True(t, mgrA.Activate(ctx, raw, true).Success)
	assert.Equal(t, 1, mgrA.GetActivationInfo().DeviceCount)

	// Device B activates at T0+2d; the record carries both devices.
	mgrB, _ := newTestManager(t, issuer, dir, "device-b", t0.Add(48*time.Hour))
	require.True(t, mgrB.Activate(ctx, raw, true).Success)
	assert.Equal(t, 2, mgrB.GetActivationInfo().DeviceCount)

	// Device C at T0+3d is over the limit.
	mgrC, _ := newTestManager(t, issuer, dir, "device-c", t0.Add(72*time.Hour))
	res := mgrC.Activate(ctx, raw, true)
	assert.False(t, res.Success)
	assert.Equal(t, errors.CodeDeviceLimitExceeded, errors.CodeOf(res.Err))

	// Device A re-activates at T0+29d; already bound, count stays 2.
	mgrA2, _ := newTestManager(t, issuer, dir, "device-a", t0.Add(29*24*time.Hour))
	require.True(t, mgrA2.Activate(ctx, raw, true).Success)
	assert.Equal(t, 2, mgrA2.GetActivationInfo().DeviceCount)

	// At T0+31d the code is expired for everyone.
	mgrLate, _ := newTestManager(t, issuer, dir, "device-a", t0.Add(31*24*time.Hour))
	res = mgrLate.Activate(ctx, raw, true)
	assert.False(t, res.Success)
	assert.Equal(t, errors.CodeExpired, errors.CodeOf(res.Err))
}

func TestInitializeValidStoredRecord(t *testing.T) {
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, days(365), t0)
	dir := t.TempDir()
	ctx := context.Background()

	mgr, _ := newTestManager(t, issuer, dir, "device-a", t0.Add(time.Hour))
	require.True(t, mgr.Activate(ctx, raw, true).Success)

	// A fresh manager over the same dir picks up the activation.
	restarted, _ := newTestManager(t, issuer, dir, "device-a", t0.Add(48*time.Hour))
	res := restarted.Initialize(ctx)
	assert.True(t, res.Success)
	assert.Equal(t, StateActivated, res.State)
	assert.True(t, restarted.IsActivated())
}

func TestInitializeRejectsForeignRecord(t *testing.T) {
	// A record copied from another machine does not activate this one.
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 1, days(365), t0)
	dir := t.TempDir()
	ctx := context.Background()

	mgrA, _ := newTestManager(t, issuer, dir, "device-a", t0.Add(time.Hour))
	require.True(t, mgrA.Activate(ctx, raw, true).Success)

	mgrB, _ := newTestManager(t, issuer, dir, "device-b", t0.Add(time.Hour))
	res := mgrB.Initialize(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, StateNotActivated, res.State)
	assert.Equal(t, errors.CodeDeviceNotRegistered, errors.CodeOf(mgrB.LastError()))
}

func TestInitializeEmitsExpiryWarning(t *testing.T) {
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, days(30), t0)
	dir := t.TempDir()
	ctx := context.Background()

	mgr, _ := newTestManager(t, issuer, dir, "device-a", t0.Add(time.Hour))
	require.True(t, mgr.Activate(ctx, raw, true).Success)

	// Restart inside the warning window.
	restarted, _ := newTestManager(t, issuer, dir, "device-a", t0.Add(25*24*time.Hour))
	var events []Event
	restarted.Subscribe(func(e Event) { events = append(events, e) })

	require.True(t, restarted.Initialize(ctx).Success)
	require.Len(t, events, 1)
	assert.Equal(t, EventExpiring, events[0].Type)
	assert.Equal(t, 5, events[0].DaysLeft)
}

func TestEventHandlersMayReenterManager(t *testing.T) {
	// Handlers run synchronously but outside the manager's lock, so a
	// subscriber reading manager state from inside a handler must not
	// deadlock.
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, days(30), t0)
	ctx := context.Background()

	mgr, _ := newTestManager(t, issuer, t.TempDir(), "device-a", t0.Add(time.Hour))

	var seen []State
	mgr.Subscribe(func(e Event) {
		seen = append(seen, mgr.GetActivationInfo().State)
	})

	require.True(t, mgr.Activate(ctx, raw, true).Success)
	require.True(t, mgr.Deactivate(ctx).Success)

	require.Len(t, seen, 2)
	assert.Equal(t, StateActivated, seen[0])
	assert.Equal(t, StateNotActivated, seen[1])
}

func TestDeactivate(t *testing.T) {
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, nil, t0)
	dir := t.TempDir()
	ctx := context.Background()

	mgr, _ := newTestManager(t, issuer, dir, "device-a", t0)
	require.True(t, mgr.Activate(ctx, raw, true).Success)

	var events []Event
	mgr.Subscribe(func(e Event) { events = append(events, e) })

	res := mgr.Deactivate(ctx)
	assert.True(t, res.Success)
	assert.Equal(t, StateNotActivated, res.State)
	assert.False(t, mgr.IsActivated())

	require.Len(t, events, 1)
	assert.Equal(t, EventDeactivated, events[0].Type)

	// The record is gone for the next start.
	restarted, _ := newTestManager(t, issuer, dir, "device-a", t0)
	res = restarted.Initialize(ctx)
	assert.True(t, res.Success)
	assert.Equal(t, StateNotActivated, res.State)
}

func TestCheckActivationStatusDemotesOnExpiry(t *testing.T) {
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, days(30), t0)
	ctx := context.Background()

	mgr, clock := newTestManager(t, issuer, t.TempDir(), "device-a", t0.Add(time.Hour))
	require.True(t, mgr.Activate(ctx, raw, true).Success)
	assert.True(t, mgr.CheckActivationStatus(ctx).Success)

	// The code expires while the process keeps running.
	clock.current = t0.Add(31 * 24 * time.Hour)

	res := mgr.CheckActivationStatus(ctx)
	assert.False(t, res.Success)
	assert.Equal(t, StateNotActivated, res.State)
	assert.Equal(t, errors.CodeExpired, errors.CodeOf(mgr.LastError()))
	assert.False(t, mgr.IsActivated())
}

func TestCheckActivationStatusWhenNotActivated(t *testing.T) {
	issuer := newTestIssuer(t)
	mgr, _ := newTestManager(t, issuer, t.TempDir(), "device-a", time.Now().UTC())
	mgr.Initialize(context.Background())

	res := mgr.CheckActivationStatus(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, StateNotActivated, res.State)
}

func TestActivateRateLimited(t *testing.T) {
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, nil, t0)
	ctx := context.Background()

	clock := &fakeClock{current: t0}
	device := &fakeDevice{id: "device-a"}
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "activation.dat"), filepath.Join(dir, "activation.key"))
	validator := NewValidator(issuer.pub, device, clock, 30)

	// One attempt allowed, effectively no refill within the test.
	mgr := NewManager(store, validator, device, clock,
		WithAttemptLimit(0.0001, 1),
	)

	require.True(t, mgr.Activate(ctx, raw, true).Success)

	res := mgr.Activate(ctx, raw, true)
	assert.False(t, res.Success)
	assert.Equal(t, errors.CodeRateLimited, errors.CodeOf(res.Err))
	// The earlier successful activation is untouched.
	assert.True(t, mgr.IsActivated())
}

func TestActivateTimeTampered(t *testing.T) {
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, days(30), t0)

	mgr, clock := newTestManager(t, issuer, t.TempDir(), "device-a", t0)
	clock.err = errors.New(errors.CodeTimeTampered, "clock rollback detected")

	res := mgr.Activate(context.Background(), raw, true)
	assert.False(t, res.Success)
	assert.Equal(t, errors.CodeTimeTampered, errors.CodeOf(res.Err))
}

func TestResetTimeCheckpoint(t *testing.T) {
	issuer := newTestIssuer(t)
	mgr, clock := newTestManager(t, issuer, t.TempDir(), "device-a", time.Now().UTC())

	require.NoError(t, mgr.ResetTimeCheckpoint())
	assert.Equal(t, 1, clock.resets)
}

func TestRememberFlagPersisted(t *testing.T) {
	issuer := newTestIssuer(t)
	t0 := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	_, raw := issuer.issue(t, 2, nil, t0)

	mgr, _ := newTestManager(t, issuer, t.TempDir(), "device-a", t0)
	require.True(t, mgr.Activate(context.Background(), raw, false).Success)

	assert.False(t, mgr.GetActivationInfo().Remembered)
}

func TestGetDeviceInfo(t *testing.T) {
	issuer := newTestIssuer(t)
	mgr, _ := newTestManager(t, issuer, t.TempDir(), "device-a", time.Now().UTC())

	dev, err := mgr.GetDeviceInfo()
	require.NoError(t, err)
	assert.Equal(t, "device-a", dev.ID)
}
