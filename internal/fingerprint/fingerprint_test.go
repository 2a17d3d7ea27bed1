package fingerprint

import (
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreation(t *testing.T) {
	m := NewManager()

	assert.NotNil(t, m)
	assert.Equal(t, time.Hour, m.cacheDuration)
	assert.Nil(t, m.cache)
	assert.True(t, m.cacheExpiry.IsZero())
}

func TestGenerateProducesStableID(t *testing.T) {
	m := NewManager()

	first, err := m.Generate()
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	m.ClearCache()

	second, err := m.Generate()
	require.NoError(t, err)

	if first.Source == SourceHardware {
		assert.Equal(t, first.ID, second.ID, "hardware-derived id must be stable across regenerations")
		assert.Len(t, first.ID, 64, "hardware id should be a hex SHA-256 digest")
	} else {
		// Random fallback ids are explicitly unstable.
		assert.NotEqual(t, first.ID, second.ID)
	}
}

func TestGenerateUsesCache(t *testing.T) {
	m := NewManager()

	first, err := m.Generate()
	require.NoError(t, err)

	second, err := m.Generate()
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
}

func TestDeviceIDMatchesGenerate(t *testing.T) {
	m := NewManager()

	dev, err := m.Generate()
	require.NoError(t, err)

	id, err := m.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, dev.ID, id)
}

func TestHashSignalsCanonicalOrder(t *testing.T) {
	dev := &Device{
		MachineID:   "machine-1",
		Hostname:    "host-a",
		Arch:        "amd64",
		NumCPU:      8,
		TotalMemory: 16 << 30,
		MACs:        []string{"aa:bb:cc:dd:ee:f1", "aa:bb:cc:dd:ee:f2"},
	}

	h1 := hashSignals(dev)
	h2 := hashSignals(dev)
	assert.Equal(t, h1, h2)

	// Any signal change must change the id.
	dev.NumCPU = 4
	assert.NotEqual(t, h1, hashSignals(dev))
}

func TestMACAddressesSortedAndNonLoopback(t *testing.T) {
	macs := macAddresses()

	for i := 1; i < len(macs); i++ {
		assert.LessOrEqual(t, macs[i-1], macs[i], "MAC list must be sorted")
	}
	for _, mac := range macs {
		assert.NotEqual(t, "00:00:00:00:00:00", mac)
	}
}

func TestTotalMemoryOnLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("meminfo only readable on linux")
	}

	mem := totalMemory()
	assert.Greater(t, mem, uint64(0))
}

func TestGeneratedDeviceFields(t *testing.T) {
	m := NewManager()

	dev, err := m.Generate()
	require.NoError(t, err)

	assert.Equal(t, runtime.GOARCH, dev.Arch)
	assert.Equal(t, runtime.NumCPU(), dev.NumCPU)
	assert.False(t, dev.GeneratedAt.IsZero())
	assert.Equal(t, strings.ToLower(dev.Hostname), dev.Hostname)
	if dev.Source == SourceHardware {
		// Only a slice of the digest fits in a uint64; parsing it confirms
		// the id is hex encoded.
		_, err := strconv.ParseUint(dev.ID[:16], 16, 64)
		require.NoError(t, err)
	}
}
