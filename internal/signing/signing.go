// Package signing verifies detached Ed25519 signatures over plugin executables and
// manages the device identity key.
package signing

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Status is the outcome of checking a plugin executable's signature.
type Status int

const (
	Unverified Status = iota // no signature file
	Verified
	Invalid
)

func (s Status) String() string {
	switch s {
	case Verified:
		return "verified"
	case Invalid:
		return "invalid"
	default:
		return "unverified"
	}
}

// MarshalText renders the status as its lower-case name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "verified":
		*s = Verified
	case "invalid":
		*s = Invalid
	case "unverified":
		*s = Unverified
	default:
		return fmt.Errorf("unknown signature status %q", text)
	}
	return nil
}

// Verify checks signature against executable under pub. It is pure: the same inputs
// always produce the same status. It returns Verified or Invalid, never Unverified.
func Verify(executable, signature []byte, pub ed25519.PublicKey) Status {
	if len(pub) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return Invalid
	}
	if ed25519.Verify(pub, executable, signature) {
		return Verified
	}
	return Invalid
}

// VerifyFile verifies the signature stored at sigPath over the file at exePath.
// A missing signature file is Unverified. Unreadable or undecodable signatures are Invalid,
// with the cause returned alongside.
func VerifyFile(exePath, sigPath string, pub ed25519.PublicKey) (Status, error) {
	rawSig, err := os.ReadFile(sigPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Unverified, nil
	}
	if err != nil {
		return Invalid, fmt.Errorf("read signature: %w", err)
	}
	sig, err := ParseSignature(rawSig)
	if err != nil {
		return Invalid, err
	}

	exe, err := os.ReadFile(exePath)
	if err != nil {
		return Invalid, fmt.Errorf("read executable: %w", err)
	}
	if pub == nil {
		return Invalid, fmt.Errorf("no trusted public key loaded")
	}
	return Verify(exe, sig, pub), nil
}

// ParseSignature accepts a raw 64-byte signature or its hex encoding.
func ParseSignature(data []byte) ([]byte, error) {
	return decodeFixed(data, ed25519.SignatureSize, "signature")
}

// ParsePublicKey accepts a raw 32-byte public key or its hex encoding.
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	b, err := decodeFixed(data, ed25519.PublicKeySize, "public key")
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(b), nil
}

// LoadPublicKey reads a trusted public key from path.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKey(data)
}

func decodeFixed(data []byte, size int, what string) ([]byte, error) {
	if len(data) == size {
		return append([]byte(nil), data...), nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == hex.EncodedLen(size) {
		out := make([]byte, size)
		if _, err := hex.Decode(out, trimmed); err != nil {
			return nil, fmt.Errorf("decode %s hex: %w", what, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s must be %d raw bytes or %d hex chars, got %d bytes",
		what, size, hex.EncodedLen(size), len(data))
}
