package securetime

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"actikey/internal/errors"
)

// checkpointSecret keys the HMAC over the checkpoint file. It raises the
// bar against casual edits of the checkpoint, not against an attacker who
// can read the binary.
const checkpointSecret = "actikey-checkpoint-v1-do-not-share"

// Checkpoint is the persisted record of the last accepted time.
type Checkpoint struct {
	Timestamp time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`
	Signature string    `json:"signature"`
}

// Guard persists a time checkpoint and rejects candidate times that
// indicate clock manipulation.
type Guard struct {
	path string

	// backwardTolerance is the slack allowed for the candidate to sit
	// behind the checkpoint before it counts as a rollback.
	backwardTolerance time.Duration

	// maxForwardGap, when positive, rejects local-clock candidates that
	// jump further ahead of the checkpoint than this window. Network
	// confirmed candidates are exempt: a genuine remote time is better
	// evidence than the checkpoint, and a hard ceiling would lock out
	// users who simply left the app closed for a while.
	maxForwardGap time.Duration
}

// NewGuard creates a guard persisting its checkpoint at path.
func NewGuard(path string, backwardTolerance, maxForwardGap time.Duration) *Guard {
	return &Guard{
		path:              path,
		backwardTolerance: backwardTolerance,
		maxForwardGap:     maxForwardGap,
	}
}

// Check validates the candidate time against the persisted checkpoint and
// advances the checkpoint on acceptance. networkConfirmed marks candidates
// obtained from a remote source rather than the local clock.
//
// A TIME_TAMPERED error is terminal for the current validation attempt.
// Checkpoint persistence failures are reported as STORAGE_IO but the
// candidate itself has been accepted.
func (g *Guard) Check(candidate time.Time, networkConfirmed bool) error {
	checkpoint, err := g.load()
	if err != nil {
		// A corrupt or forged checkpoint is replaced rather than trusted.
		slog.Warn("time checkpoint unreadable, resetting",
			slog.String("path", g.path),
			slog.String("error", err.Error()),
		)
		checkpoint = nil
	}

	if checkpoint == nil {
		return g.save(candidate)
	}

	if candidate.Before(checkpoint.Timestamp.Add(-g.backwardTolerance)) {
		return errors.Newf(errors.CodeTimeTampered,
			"candidate time %s is %s behind the last checkpoint",
			candidate.Format(time.RFC3339),
			checkpoint.Timestamp.Sub(candidate).Round(time.Second),
		)
	}

	if g.maxForwardGap > 0 && !networkConfirmed {
		if candidate.After(checkpoint.Timestamp.Add(g.maxForwardGap)) {
			return errors.Newf(errors.CodeTimeTampered,
				"local clock jumped %s past the last checkpoint",
				candidate.Sub(checkpoint.Timestamp).Round(time.Second),
			)
		}
	}

	// Never move the checkpoint backwards; a candidate within the
	// tolerance window is accepted without rewinding progress.
	if candidate.After(checkpoint.Timestamp) {
		return g.save(candidate)
	}
	return nil
}

// Reset deletes the persisted checkpoint.
func (g *Guard) Reset() error {
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.CodeStorageIO, "failed to remove time checkpoint", err)
	}
	return nil
}

// Last returns the persisted checkpoint time, zero when absent.
func (g *Guard) Last() time.Time {
	checkpoint, err := g.load()
	if err != nil || checkpoint == nil {
		return time.Time{}
	}
	return checkpoint.Timestamp
}

func (g *Guard) load() (*Checkpoint, error) {
	data, err := os.ReadFile(g.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}

	if checkpoint.Signature != signCheckpoint(checkpoint) {
		return nil, fmt.Errorf("checkpoint signature mismatch")
	}

	return &checkpoint, nil
}

func (g *Guard) save(accepted time.Time) error {
	checkpoint := Checkpoint{
		Timestamp: accepted,
		UpdatedAt: time.Now(),
	}
	checkpoint.Signature = signCheckpoint(checkpoint)

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return errors.Wrap(errors.CodeStorageIO, "failed to marshal checkpoint", err)
	}

	if err := os.WriteFile(g.path, data, 0o600); err != nil {
		return errors.Wrap(errors.CodeStorageIO, "failed to write checkpoint", err)
	}

	return nil
}

// signCheckpoint computes the HMAC over the checkpoint payload, excluding
// the signature field itself.
func signCheckpoint(c Checkpoint) string {
	payload := fmt.Sprintf("%s|%s",
		c.Timestamp.Format(time.RFC3339Nano),
		c.UpdatedAt.Format(time.RFC3339Nano),
	)
	h := hmac.New(sha256.New, []byte(checkpointSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
