package license

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Code is the issuer-produced activation artifact. It is immutable once
// signed: the signature covers the canonical field set, so any change to
// a covered field invalidates it.
type Code struct {
	ID         string    `json:"id" validate:"required"`
	MaxDevices int       `json:"maxDevices" validate:"required,gt=0"`
	// ValidDays is nil for permanent codes.
	ValidDays *int      `json:"validDays,omitempty" validate:"omitempty,gt=0"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
	Notes     string    `json:"notes,omitempty"`
	// Signature is base64 over CanonicalString; not itself covered.
	Signature string `json:"signature" validate:"required"`
}

// CanonicalString returns the deterministic textual encoding the
// signature is computed over. Field order, separators and the
// absence/presence rules are a contract with issuer tooling; changing
// any of them breaks verification of every issued code.
func (c *Code) CanonicalString() string {
	validDays := ""
	if c.ValidDays != nil {
		validDays = strconv.Itoa(*c.ValidDays)
	}

	parts := []string{
		c.ID,
		strconv.Itoa(c.MaxDevices),
		validDays,
		c.CreatedAt.UTC().Format(time.RFC3339),
	}
	if c.Notes != "" {
		parts = append(parts, c.Notes)
	}
	return strings.Join(parts, "|")
}

// Permanent reports whether the code never expires.
func (c *Code) Permanent() bool {
	return c.ValidDays == nil
}

// ExpireAt returns the expiration instant. ok is false for permanent
// codes.
func (c *Code) ExpireAt() (expireAt time.Time, ok bool) {
	if c.ValidDays == nil {
		return time.Time{}, false
	}
	return c.CreatedAt.Add(time.Duration(*c.ValidDays) * 24 * time.Hour), true
}

// Validity describes the code's period as a human-readable string for
// lifecycle events and logs.
func (c *Code) Validity() string {
	if c.ValidDays == nil {
		return "permanent"
	}
	return fmt.Sprintf("%d days", *c.ValidDays)
}
