package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Identity is the device's Ed25519 key pair. The private seed is persisted so the device
// id survives restarts.
type Identity struct {
	priv ed25519.PrivateKey
}

// LoadOrGenerateIdentity loads the 32-byte seed at path, generating and saving a new one
// (mode 0600, parent directories created) on first boot.
func LoadOrGenerateIdentity(path string) (*Identity, error) {
	seed, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("key file %s: expected %d bytes, got %d", path, ed25519.SeedSize, len(seed))
		}
		return &Identity{priv: ed25519.NewKeyFromSeed(seed)}, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read key file: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, priv.Seed(), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return &Identity{priv: priv}, nil
}

// PublicKey returns the identity's public key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.priv.Public().(ed25519.PublicKey)
}

// PublicKeyHex returns the hex-encoded public key, used as the device id.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.PublicKey())
}

// Sign returns a detached signature over data.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.priv, data)
}

// SignFile signs the file at exePath and writes the hex signature to sigPath.
func (id *Identity) SignFile(exePath, sigPath string) error {
	data, err := os.ReadFile(exePath)
	if err != nil {
		return fmt.Errorf("read executable: %w", err)
	}
	sig := hex.EncodeToString(id.Sign(data)) + "\n"
	if err := os.WriteFile(sigPath, []byte(sig), 0o644); err != nil {
		return fmt.Errorf("write signature: %w", err)
	}
	return nil
}
