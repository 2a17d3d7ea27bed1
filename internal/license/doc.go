// Package license implements the offline activation core: signed
// activation codes, device-bound activation records, and the manager
// state machine the host application drives.
//
// # Architecture Overview
//
// The package is composed of small collaborators owned by the Manager:
//
//	- Codec: opaque wire string <-> signed activation code
//	- Signer/Verifier: RSA signatures over the canonical field set
//	- Validator: signature, expiration and device-count policy
//	- Store: the encrypted local activation record
//	- Manager: activation lifecycle state machine and events
//
// Device identity comes from internal/fingerprint and trustworthy time
// from internal/securetime; both are injected so tests can substitute
// them.
//
// # Validation Flow
//
// A code string is validated in fixed order:
//
//	1. Decode the wire string (fail closed on any parse error)
//	2. Verify the signature with the embedded public key
//	3. Check expiration against the secure time provider
//	4. Apply the device-count policy against the stored record
//
// An already-bound device always revalidates regardless of the current
// device count.
//
// # Threat Model
//
// The core resists forged codes, local clock rollback and device-limit
// evasion by code sharing. It does not resist an attacker with arbitrary
// write access to the running process. The record encryption key is
// stored beside the ciphertext it protects, so encryption at rest is
// obfuscation against casual inspection, not confidentiality against a
// local attacker with file-system access.
package license
