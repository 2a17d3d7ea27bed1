package license

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// keyBits is the issuer key size. Verification accepts whatever size the
// embedded public key carries; generation always uses 2048.
const keyBits = 2048

// embeddedPublicKeyB64 is the base64 of the issuer's public key PEM,
// injected at build time:
//
//	go build -ldflags "-X actikey/internal/license.embeddedPublicKeyB64=$(base64 -w0 public.pem)"
//
// Builds without it must supply the key via the public_key_file config
// path instead.
var embeddedPublicKeyB64 string

// Sign computes the signature over the code's canonical field set.
// Issuer-side only; the client never holds the private key.
func Sign(code *Code, key *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256([]byte(code.CanonicalString()))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign activation code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks the code's signature against the canonical field set.
// It never returns an error: malformed signatures, wrong keys and
// mismatched digests all report false.
func Verify(code *Code, pub *rsa.PublicKey) bool {
	if code == nil || pub == nil {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(code.Signature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(code.CanonicalString()))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// ParsePublicKey parses a PEM-encoded RSA public key.
func ParsePublicKey(pemData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key data")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaPub, nil
}

// ParsePrivateKey parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key data")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

// GenerateKeyPair creates a fresh issuer key pair as PEM blobs. Used by
// issuer tooling and tests.
func GenerateKeyPair() (privatePEM, publicPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	privatePEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	return privatePEM, publicPEM, nil
}

// LoadPublicKey resolves the verification key: the configured key file
// when set, otherwise the build-time embedded key.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	if path != "" {
		pemData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key file: %w", err)
		}
		return ParsePublicKey(pemData)
	}

	if embeddedPublicKeyB64 == "" {
		return nil, fmt.Errorf("no public key configured and none embedded in this build")
	}
	pemData, err := base64.StdEncoding.DecodeString(embeddedPublicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("embedded public key is corrupt: %w", err)
	}
	return ParsePublicKey(pemData)
}
