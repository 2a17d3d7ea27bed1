package license

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/crypto/scrypt"

	"actikey/internal/errors"
)

// scrypt parameters for deriving the AES key from the persisted seed.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	seedLen      = 32
	nonceLen     = 12
)

// storeSalt is a fixed domain-separation salt for the key derivation.
// The seed file beside the ciphertext is the actual key material; this
// encryption is obfuscation against casual inspection, not protection
// against an attacker with file-system access.
var storeSalt = []byte("actikey-store-v1")

// Store persists the activation record encrypted at rest. Storage
// failures are logged and reported as STORAGE_IO errors; they never
// panic. A missing or corrupt record file reads as "no license".
type Store struct {
	recordPath string
	keyPath    string

	// now stamps device bindings; overridable in tests.
	now func() time.Time
}

// NewStore creates a store over the given record and key file paths.
func NewStore(recordPath, keyPath string) *Store {
	return &Store{
		recordPath: recordPath,
		keyPath:    keyPath,
		now:        time.Now,
	}
}

// Save encrypts and persists the record.
func (s *Store) Save(record *Record) error {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return s.fail("failed to marshal activation record", err)
	}

	gcm, err := s.cipher()
	if err != nil {
		return s.fail("failed to initialize record cipher", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return s.fail("failed to generate nonce", err)
	}

	// File layout: nonce || ciphertext(with GCM tag).
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	if err := os.WriteFile(s.recordPath, ciphertext, 0o600); err != nil {
		return s.fail("failed to write activation record", err)
	}

	slog.Debug("activation record saved",
		slog.String("path", s.recordPath),
		slog.Int("devices", record.DeviceCount()),
	)
	return nil
}

// Load reads and decrypts the persisted record. It returns (nil, nil)
// when no usable record exists: absent, unreadable and corrupt files are
// all treated identically to "no license".
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.recordPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		slog.Warn("activation record unreadable",
			slog.String("path", s.recordPath),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	if len(data) < nonceLen {
		slog.Warn("activation record truncated, treating as absent",
			slog.String("path", s.recordPath),
		)
		return nil, nil
	}

	gcm, err := s.cipher()
	if err != nil {
		slog.Warn("record cipher unavailable, treating record as absent",
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	plaintext, err := gcm.Open(nil, data[:nonceLen], data[nonceLen:], nil)
	if err != nil {
		slog.Warn("activation record failed to decrypt, treating as absent",
			slog.String("path", s.recordPath),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	var record Record
	if err := json.Unmarshal(plaintext, &record); err != nil {
		slog.Warn("activation record failed to parse, treating as absent",
			slog.String("path", s.recordPath),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	return &record, nil
}

// Clear removes the persisted record. Clearing an absent record succeeds.
func (s *Store) Clear() error {
	if err := os.Remove(s.recordPath); err != nil && !os.IsNotExist(err) {
		return s.fail("failed to remove activation record", err)
	}
	return nil
}

// AddDevice upserts the binding for the given device id: a bound device
// gets its LastUsedAt refreshed, a new device is appended. The updated
// record is re-persisted.
func (s *Store) AddDevice(deviceID string) error {
	record, err := s.Load()
	if err != nil {
		return err
	}
	if record == nil {
		return errors.New(errors.CodeNotActivated, "no activation record to bind the device to")
	}

	record.UpsertDevice(deviceID, s.now())
	return s.Save(record)
}

// cipher derives the AES-GCM cipher from the persisted seed, generating
// the seed on first use.
func (s *Store) cipher() (cipher.AEAD, error) {
	seed, err := s.loadOrCreateSeed()
	if err != nil {
		return nil, err
	}

	key, err := scrypt.Key(seed, storeSalt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// loadOrCreateSeed reads the persisted key seed, generating it once on
// first run.
func (s *Store) loadOrCreateSeed() ([]byte, error) {
	seed, err := os.ReadFile(s.keyPath)
	if err == nil && len(seed) == seedLen {
		return seed, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if err == nil {
		// Wrong-sized seed file: records encrypted under it are
		// unrecoverable anyway, so regenerate.
		slog.Warn("key file has unexpected size, regenerating",
			slog.String("path", s.keyPath),
			slog.Int("size", len(seed)),
		)
	}

	seed = make([]byte, seedLen)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate key seed: %w", err)
	}
	if err := os.WriteFile(s.keyPath, seed, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return seed, nil
}

func (s *Store) fail(message string, err error) error {
	slog.Error(message,
		slog.String("path", s.recordPath),
		slog.String("error", err.Error()),
	)
	return errors.Wrap(errors.CodeStorageIO, message, err)
}
