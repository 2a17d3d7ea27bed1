// Package fingerprint derives a stable per-machine identifier from
// hardware and platform signals. The identifier binds an activation
// record to the device it was activated on.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source records how the device identifier was derived.
type Source string

const (
	// SourceHardware means the id was hashed from stable hardware signals.
	SourceHardware Source = "hardware"
	// SourceRandom means no stable signal was available and a random id
	// was generated instead. Random ids do not survive reinstalls, so a
	// device in this state can consume a fresh binding slot each time.
	SourceRandom Source = "random"
)

// Device describes the identified device and the signals behind it.
type Device struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	MachineID   string    `json:"machine_id"`
	Hostname    string    `json:"hostname"`
	Arch        string    `json:"arch"`
	NumCPU      int       `json:"num_cpu"`
	TotalMemory uint64    `json:"total_memory"`
	MACs        []string  `json:"macs"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Manager computes and caches the device fingerprint.
type Manager struct {
	cache         *Device
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewManager creates a fingerprint manager with a one-hour cache.
func NewManager() *Manager {
	return &Manager{
		cacheDuration: time.Hour,
	}
}

// DeviceID returns the stable device identifier hash.
func (m *Manager) DeviceID() (string, error) {
	dev, err := m.Generate()
	if err != nil {
		return "", err
	}
	return dev.ID, nil
}

// Generate collects the hardware signals, hashes them into the device id
// and caches the result. When neither a machine id nor any MAC address is
// available there is nothing stable to bind to, and a random identifier
// is generated instead (Source reports which path was taken).
func (m *Manager) Generate() (*Device, error) {
	m.cacheMutex.RLock()
	if m.cache != nil && time.Now().Before(m.cacheExpiry) {
		cached := *m.cache
		m.cacheMutex.RUnlock()
		return &cached, nil
	}
	m.cacheMutex.RUnlock()

	machineID, err := readMachineID()
	if err != nil {
		machineID = ""
		slog.Warn("machine id unavailable",
			slog.String("error", err.Error()),
		)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
		slog.Warn("hostname unavailable",
			slog.String("error", err.Error()),
		)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))

	macs := macAddresses()
	memory := totalMemory()

	dev := &Device{
		Source:      SourceHardware,
		MachineID:   machineID,
		Hostname:    hostname,
		Arch:        runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
		TotalMemory: memory,
		MACs:        macs,
		GeneratedAt: time.Now(),
	}

	if machineID == "" && len(macs) == 0 {
		dev.Source = SourceRandom
		dev.ID = uuid.NewString()
		slog.Warn("no stable hardware signal available, using random device id",
			slog.String("device_id", dev.ID),
		)
	} else {
		dev.ID = hashSignals(dev)
	}

	m.cacheMutex.Lock()
	m.cache = dev
	m.cacheExpiry = time.Now().Add(m.cacheDuration)
	m.cacheMutex.Unlock()

	slog.Debug("device fingerprint generated",
		slog.String("device_id", dev.ID),
		slog.String("source", string(dev.Source)),
		slog.String("hostname", hostname),
		slog.Int("mac_count", len(macs)),
	)

	return dev, nil
}

// ClearCache drops the cached fingerprint.
func (m *Manager) ClearCache() {
	m.cacheMutex.Lock()
	defer m.cacheMutex.Unlock()
	m.cache = nil
	m.cacheExpiry = time.Time{}
}

// hashSignals concatenates every signal into a canonical textual form and
// hashes it. The field order here is part of the binding contract; do not
// reorder.
func hashSignals(dev *Device) string {
	parts := []string{
		dev.MachineID,
		dev.Hostname,
		dev.Arch,
		strconv.Itoa(dev.NumCPU),
		strconv.FormatUint(dev.TotalMemory, 10),
		strings.Join(dev.MACs, ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// macAddresses returns the sorted MAC addresses of all non-loopback
// interfaces that carry hardware addresses. Sorting keeps the canonical
// form independent of interface enumeration order.
func macAddresses() []string {
	interfaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("failed to enumerate network interfaces",
			slog.String("error", err.Error()),
		)
		return nil
	}

	var macs []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs
}

// readMachineID reads the OS machine identifier.
func readMachineID() (string, error) {
	switch runtime.GOOS {
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if b, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(b)); id != "" {
					return id, nil
				}
			}
		}
		return "", fmt.Errorf("no machine-id file readable")
	case "windows":
		// MachineGuid lives in the registry; the product id env var is the
		// closest signal reachable without cgo or registry bindings.
		if id := os.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
			return id, nil
		}
		return "", fmt.Errorf("no windows machine identifier available")
	case "darwin":
		if id := os.Getenv("HOSTTYPE"); id != "" {
			return fmt.Sprintf("darwin-%s", id), nil
		}
		return "", fmt.Errorf("no darwin machine identifier available")
	default:
		return "", fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}

// totalMemory reports total physical memory in bytes, zero when unknown.
func totalMemory() uint64 {
	if runtime.GOOS != "linux" {
		return 0
	}
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
