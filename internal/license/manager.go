package license

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"actikey/internal/errors"
	"actikey/internal/fingerprint"
)

// State is the manager's activation state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateNotActivated  State = "not_activated"
	StateActivated     State = "activated"
)

// Result is the uniform outcome shape of every public manager operation.
type Result struct {
	Success bool  `json:"success"`
	State   State `json:"state"`
	Err     error `json:"-"`
}

// ActivationInfo is a read-only snapshot of the current activation.
type ActivationInfo struct {
	State       State      `json:"state"`
	CodeID      string     `json:"code_id,omitempty"`
	MaxDevices  int        `json:"max_devices,omitempty"`
	DeviceCount int        `json:"device_count,omitempty"`
	Validity    string     `json:"validity,omitempty"`
	ActivatedAt time.Time  `json:"activated_at,omitempty"`
	ExpireAt    *time.Time `json:"expire_at,omitempty"`
	Remembered  bool       `json:"remembered,omitempty"`
}

// Manager orchestrates the activation lifecycle: it owns the local
// record, drives the state machine and emits lifecycle events. It is the
// only component host applications interact with directly.
//
// All mutating operations serialize on an internal mutex, so concurrent
// Activate/Deactivate calls on one instance cannot lose updates.
type Manager struct {
	store     *Store
	validator *Validator
	devices   DeviceIdentifier
	time      TimeProvider
	events    *eventRegistry
	limiter   *rate.Limiter
	metrics   *Metrics

	mu      sync.Mutex
	state   State
	record  *Record
	lastErr error
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithMetrics attaches OpenTelemetry instruments to the manager.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithAttemptLimit overrides the activation attempt rate limit.
func WithAttemptLimit(rps float64, burst int) ManagerOption {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewManager wires a manager from its collaborators. Each instance owns
// its store and checkpoint paths; nothing is shared between instances.
func NewManager(store *Store, validator *Validator, devices DeviceIdentifier, timeProvider TimeProvider, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		validator: validator,
		devices:   devices,
		time:      timeProvider,
		events:    newEventRegistry(),
		limiter:   rate.NewLimiter(rate.Limit(1), 5),
		state:     StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a lifecycle event handler and returns its
// unsubscribe function. Handlers run synchronously after the transition
// completes, outside the manager's lock, so they may call back into the
// manager.
func (m *Manager) Subscribe(handler func(Event)) (unsubscribe func()) {
	return m.events.subscribe(handler)
}

// Initialize loads the persisted record and validates it for this
// device. The state becomes Activated or NotActivated; an absent record
// is simply NotActivated, not an error.
func (m *Manager) Initialize(ctx context.Context) Result {
	res, event := m.initialize(ctx)
	m.emit(event)
	return res
}

// initialize is the locked core of Initialize. Events are returned, not
// emitted, so handlers never run under m.mu and may call back into the
// manager.
func (m *Manager) initialize(ctx context.Context) (Result, *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.store.Load()
	if err != nil || record == nil {
		m.setState(StateNotActivated, nil, nil)
		m.logInfo(ctx, "initialize", "no stored activation found")
		return m.result(true), nil
	}

	code, err := m.validator.ValidateLocal(ctx, record)
	m.metrics.recordValidation(ctx, err)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeTimeTampered {
			m.metrics.recordTamper(ctx)
		}
		m.setState(StateNotActivated, nil, err)
		m.logWarn(ctx, "initialize", "stored activation is not valid for this device",
			slog.String("error", err.Error()),
		)
		return m.result(false), nil
	}

	m.setState(StateActivated, record, nil)
	m.logInfo(ctx, "initialize", "stored activation validated",
		slog.String("code_id", code.ID),
		slog.Int("device_count", record.DeviceCount()),
	)

	// Refresh this device's last-used stamp. A failure here degrades
	// bookkeeping only; the activation stays valid.
	if deviceID, derr := m.devices.DeviceID(); derr == nil {
		if serr := m.store.AddDevice(deviceID); serr != nil {
			m.logWarn(ctx, "initialize", "failed to refresh device usage stamp",
				slog.String("error", serr.Error()),
			)
		} else if refreshed, lerr := m.store.Load(); lerr == nil && refreshed != nil {
			m.record = refreshed
		}
	}

	if status := m.validator.CheckExpiration(code); status.Warning && !status.Permanent {
		return m.result(true), &Event{
			Type:     EventExpiring,
			DaysLeft: status.DaysLeft,
		}
	}

	return m.result(true), nil
}

// Activate validates the code string and installs it as the current
// activation. The previous record's device list is carried forward, the
// current device is bound, and an activated event is emitted. Validation
// failures leave state untouched.
func (m *Manager) Activate(ctx context.Context, raw string, remember bool) Result {
	res, event := m.activate(ctx, raw, remember)
	m.emit(event)
	return res
}

// activate is the locked core of Activate; see initialize.
func (m *Manager) activate(ctx context.Context, raw string, remember bool) (Result, *Event) {
	start := time.Now()

	if !m.limiter.Allow() {
		m.metrics.recordRateLimit(ctx)
		m.mu.Lock()
		defer m.mu.Unlock()
		m.lastErr = errors.ErrRateLimited
		m.logWarn(ctx, "activate", "activation attempt rate limited")
		return m.result(false), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.record
	if m.state == StateUninitialized {
		existing, _ = m.store.Load()
	}

	code, err := m.validator.Validate(ctx, raw, existing)
	m.metrics.recordActivation(ctx, start, err)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeTimeTampered {
			m.metrics.recordTamper(ctx)
		}
		m.lastErr = err
		m.logWarn(ctx, "activate", "activation failed",
			slog.String("code", maskCode(raw)),
			slog.String("error", err.Error()),
		)
		return m.result(false), nil
	}

	now, err := m.time.CurrentTime(ctx)
	if err != nil {
		m.lastErr = err
		return m.result(false), nil
	}

	deviceID, err := m.devices.DeviceID()
	if err != nil {
		m.lastErr = errors.Wrap(errors.CodeStorageIO, "failed to identify this device", err)
		return m.result(false), nil
	}

	record := NewRecord(code, raw, remember, existing, now)
	record.UpsertDevice(deviceID, now)

	if err := m.store.Save(record); err != nil {
		m.lastErr = err
		m.logError(ctx, "activate", "failed to persist activation record",
			slog.String("error", err.Error()),
		)
		return m.result(false), nil
	}

	m.setState(StateActivated, record, nil)
	m.logInfo(ctx, "activate", "activation successful",
		slog.String("code", maskCode(raw)),
		slog.String("code_id", code.ID),
		slog.Int("device_count", record.DeviceCount()),
		slog.Int("max_devices", code.MaxDevices),
		slog.String("validity", code.Validity()),
	)

	return m.result(true), &Event{
		Type:        EventActivated,
		DeviceCount: record.DeviceCount(),
		MaxDevices:  code.MaxDevices,
		Validity:    code.Validity(),
	}
}

// Deactivate clears the stored record. On storage failure the state is
// left unchanged and the failure is reported.
func (m *Manager) Deactivate(ctx context.Context) Result {
	res, event := m.deactivate(ctx)
	m.emit(event)
	return res
}

// deactivate is the locked core of Deactivate; see initialize.
func (m *Manager) deactivate(ctx context.Context) (Result, *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.lastErr = err
		m.logError(ctx, "deactivate", "failed to clear activation record",
			slog.String("error", err.Error()),
		)
		return m.result(false), nil
	}

	m.setState(StateNotActivated, nil, nil)
	m.logInfo(ctx, "deactivate", "activation removed")

	return m.result(true), &Event{Type: EventDeactivated}
}

// CheckActivationStatus re-validates the in-memory record without
// touching storage, demoting the state on failure.
func (m *Manager) CheckActivationStatus(ctx context.Context) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActivated || m.record == nil {
		return m.result(m.state == StateActivated)
	}

	_, err := m.validator.ValidateLocal(ctx, m.record)
	m.metrics.recordValidation(ctx, err)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeTimeTampered {
			m.metrics.recordTamper(ctx)
		}
		m.setState(StateNotActivated, nil, err)
		m.logWarn(ctx, "check_status", "activation no longer valid",
			slog.String("error", err.Error()),
		)
		return m.result(false)
	}

	return m.result(true)
}

// IsActivated reports whether the manager currently holds a valid
// activation.
func (m *Manager) IsActivated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateActivated
}

// GetActivationInfo returns a read-only snapshot of the activation. It
// never mutates state.
func (m *Manager) GetActivationInfo() ActivationInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := ActivationInfo{State: m.state}
	if m.record == nil {
		return info
	}

	info.CodeID = m.record.Code.ID
	info.MaxDevices = m.record.Code.MaxDevices
	info.DeviceCount = m.record.DeviceCount()
	info.Validity = m.record.Code.Validity()
	info.ActivatedAt = m.record.CreatedAt
	info.ExpireAt = m.record.ExpireAt
	info.Remembered = m.record.Remember
	return info
}

// GetDeviceInfo returns the current device identity.
func (m *Manager) GetDeviceInfo() (*fingerprint.Device, error) {
	return m.devices.Generate()
}

// LastError returns the error behind the most recent failed Result.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ResetTimeCheckpoint clears the tamper-detection checkpoint. Intended
// for support flows after a legitimate clock correction.
func (m *Manager) ResetTimeCheckpoint() error {
	return m.time.ResetCheckpoint()
}

// setState applies a transition. Callers hold m.mu.
func (m *Manager) setState(state State, record *Record, err error) {
	m.state = state
	m.record = record
	m.lastErr = err
}

// emit delivers a lifecycle event to subscribers. Callers must not hold
// m.mu: handlers run synchronously and may call back into the manager.
func (m *Manager) emit(event *Event) {
	if event != nil {
		m.events.emit(*event)
	}
}

// result snapshots the current state into a Result. Callers hold m.mu.
func (m *Manager) result(success bool) Result {
	res := Result{Success: success, State: m.state}
	if !success {
		res.Err = m.lastErr
	}
	return res
}
