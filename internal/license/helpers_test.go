package license

import (
	"context"
	"crypto/rsa"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"actikey/internal/fingerprint"
)

// fakeClock is a TimeProvider returning a controllable instant.
type fakeClock struct {
	current time.Time
	err     error
	resets  int
}

func (f *fakeClock) CurrentTime(ctx context.Context) (time.Time, error) {
	if f.err != nil {
		return time.Time{}, f.err
	}
	return f.current, nil
}

func (f *fakeClock) ResetCheckpoint() error {
	f.resets++
	return nil
}

// fakeDevice is a DeviceIdentifier with a fixed id, standing in for a
// particular machine.
type fakeDevice struct {
	id  string
	err error
}

func (f *fakeDevice) DeviceID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.id, nil
}

func (f *fakeDevice) Generate() (*fingerprint.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fingerprint.Device{ID: f.id, Source: fingerprint.SourceHardware}, nil
}

// testIssuer plays the vendor-side tool: it holds the private key and
// issues signed codes for tests.
type testIssuer struct {
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	privPEM, pubPEM, err := GenerateKeyPair()
	require.NoError(t, err)

	priv, err := ParsePrivateKey(privPEM)
	require.NoError(t, err)
	pub, err := ParsePublicKey(pubPEM)
	require.NoError(t, err)

	return &testIssuer{priv: priv, pub: pub}
}

// issue builds and signs a code. validDays nil issues a permanent code.
func (i *testIssuer) issue(t *testing.T, maxDevices int, validDays *int, createdAt time.Time) (*Code, string) {
	t.Helper()

	code := &Code{
		ID:         uuid.NewString(),
		MaxDevices: maxDevices,
		ValidDays:  validDays,
		CreatedAt:  createdAt,
	}

	sig, err := Sign(code, i.priv)
	require.NoError(t, err)
	code.Signature = sig

	raw, err := Encode(code)
	require.NoError(t, err)
	return code, raw
}

func days(n int) *int {
	return &n
}

// newTestStore creates a store over temp paths.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "activation.dat"), filepath.Join(dir, "activation.key"))
}
