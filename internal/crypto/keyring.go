package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrKeyNotFound    = errors.New("key not found in keyring")
	ErrActiveKeyUnset = errors.New("active master key identifier not set or found")
)

type MasterKey struct {
	KID      string `json:"kid"`
	Material string `json:"material"` // Base64
}

// Keyring holds the master keys used to wrap per-camera DEKs. Old keys stay
// loadable so records wrapped under a rotated-out KID still decrypt; only
// the active KID wraps new material.
type Keyring struct {
	keys      map[string][]byte
	activeKID string
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string][]byte)}
}

// LoadFromEnv reads MASTER_KEYS (JSON array of {kid, material}) and
// ACTIVE_MASTER_KID. It fails loudly on any malformed entry rather than
// starting with a partial keyring.
func (k *Keyring) LoadFromEnv() error {
	keysJSON := os.Getenv("MASTER_KEYS")
	activeKID := os.Getenv("ACTIVE_MASTER_KID")

	if keysJSON == "" {
		return errors.New("MASTER_KEYS environment variable is empty")
	}
	if activeKID == "" {
		return errors.New("ACTIVE_MASTER_KID environment variable is empty")
	}

	var rawKeys []MasterKey
	if err := json.Unmarshal([]byte(keysJSON), &rawKeys); err != nil {
		return fmt.Errorf("failed to parse MASTER_KEYS: %w", err)
	}

	k.keys = make(map[string][]byte)
	for _, rk := range rawKeys {
		if rk.KID == "" {
			return errors.New("found master key with empty KID")
		}
		if _, exists := k.keys[rk.KID]; exists {
			return fmt.Errorf("duplicate master key KID: %s", rk.KID)
		}

		decoded, err := base64.StdEncoding.DecodeString(rk.Material)
		if err != nil {
			return fmt.Errorf("invalid base64 for key %s: %w", rk.KID, err)
		}
		if len(decoded) != 32 {
			return fmt.Errorf("invalid key length for %s: expected 32 bytes (AES-256), got %d", rk.KID, len(decoded))
		}
		k.keys[rk.KID] = decoded
	}

	if _, ok := k.keys[activeKID]; !ok {
		return fmt.Errorf("active key %s not found in MASTER_KEYS", activeKID)
	}
	k.activeKID = activeKID
	return nil
}

// WrapDEK seals a DEK under the active master key.
func (k *Keyring) WrapDEK(dek, aad []byte) (string, []byte, error) {
	if k.activeKID == "" {
		return "", nil, ErrActiveKeyUnset
	}
	masterKey, ok := k.keys[k.activeKID]
	if !ok {
		return "", nil, ErrActiveKeyUnset
	}
	wrapped, err := Seal(masterKey, dek, aad)
	if err != nil {
		return "", nil, err
	}
	return k.activeKID, wrapped, nil
}

// UnwrapDEK opens a wrapped DEK under whichever master key sealed it.
func (k *Keyring) UnwrapDEK(kid string, wrapped, aad []byte) ([]byte, error) {
	masterKey, ok := k.keys[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return Open(masterKey, wrapped, aad)
}

// SealSecret envelope-encrypts a secret: a fresh DEK seals the secret and
// the active master key wraps the DEK.
func (k *Keyring) SealSecret(secret, aad []byte) (kid string, wrappedDEK, sealed []byte, err error) {
	dek, err := GenerateDEK()
	if err != nil {
		return "", nil, nil, err
	}
	kid, wrappedDEK, err = k.WrapDEK(dek, aad)
	if err != nil {
		return "", nil, nil, err
	}
	sealed, err = Seal(dek, secret, aad)
	if err != nil {
		return "", nil, nil, err
	}
	return kid, wrappedDEK, sealed, nil
}

// OpenSecret reverses SealSecret.
func (k *Keyring) OpenSecret(kid string, wrappedDEK, sealed, aad []byte) ([]byte, error) {
	dek, err := k.UnwrapDEK(kid, wrappedDEK, aad)
	if err != nil {
		return nil, err
	}
	return Open(dek, sealed, aad)
}

// GenerateDEK creates a random 32-byte key for use as a DEK.
func GenerateDEK() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
