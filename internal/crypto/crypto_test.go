package crypto_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/technosupport/ts-ppe/internal/crypto"
)

func TestAESGCM_RoundTrip(t *testing.T) {
	key, _ := crypto.GenerateDEK()
	plaintext := []byte("secret payload")
	aad := []byte("context")

	sealed, err := crypto.Seal(key, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	decrypted, err := crypto.Open(key, sealed, aad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Error("Decrypted text mismatch")
	}
}

func TestAESGCM_AADMismatch(t *testing.T) {
	key, _ := crypto.GenerateDEK()
	sealed, _ := crypto.Seal(key, []byte("secret"), []byte("valid-aad"))

	_, err := crypto.Open(key, sealed, []byte("invalid-aad"))
	if err == nil {
		t.Error("Expected error with wrong AAD")
	}
}

func TestAESGCM_Tamper(t *testing.T) {
	key, _ := crypto.GenerateDEK()
	sealed, _ := crypto.Seal(key, []byte("secret"), nil)

	sealed[len(sealed)-1] ^= 0xFF
	if _, err := crypto.Open(key, sealed, nil); err == nil {
		t.Error("Expected error on tamper")
	}
}

func TestAESGCM_TruncatedBlob(t *testing.T) {
	key, _ := crypto.GenerateDEK()
	if _, err := crypto.Open(key, []byte("short"), nil); err == nil {
		t.Error("Expected error on truncated blob")
	}
}

func TestKeyring_LoadAndWrap(t *testing.T) {
	k1 := make([]byte, 32)
	k1Str := base64.StdEncoding.EncodeToString(k1)

	k2, _ := crypto.GenerateDEK()
	k2Str := base64.StdEncoding.EncodeToString(k2)

	keys := []map[string]string{
		{"kid": "key-1", "material": k1Str},
		{"kid": "key-2", "material": k2Str},
	}
	keysJSON, _ := json.Marshal(keys)

	t.Setenv("MASTER_KEYS", string(keysJSON))
	t.Setenv("ACTIVE_MASTER_KID", "key-2")

	kr := crypto.NewKeyring()
	if err := kr.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	dek, _ := crypto.GenerateDEK()
	dekAAD := []byte("dek-aad")

	kid, wrapped, err := kr.WrapDEK(dek, dekAAD)
	if err != nil {
		t.Fatalf("WrapDEK failed: %v", err)
	}
	if kid != "key-2" {
		t.Errorf("Expected active key-2, got %s", kid)
	}

	unwrapped, err := kr.UnwrapDEK(kid, wrapped, dekAAD)
	if err != nil {
		t.Fatalf("UnwrapDEK failed: %v", err)
	}
	if !bytes.Equal(dek, unwrapped) {
		t.Error("Unwrapped DEK mismatch")
	}

	// A KID that never existed.
	if _, err := kr.UnwrapDEK("key-9", wrapped, dekAAD); err != crypto.ErrKeyNotFound {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func TestKeyring_SealSecret(t *testing.T) {
	k, _ := crypto.GenerateDEK()
	keysJSON, _ := json.Marshal([]map[string]string{
		{"kid": "key-1", "material": base64.StdEncoding.EncodeToString(k)},
	})
	t.Setenv("MASTER_KEYS", string(keysJSON))
	t.Setenv("ACTIVE_MASTER_KID", "key-1")

	kr := crypto.NewKeyring()
	if err := kr.LoadFromEnv(); err != nil {
		t.Fatal(err)
	}

	aad := []byte("CAM_ABC123")
	kid, wrappedDEK, sealed, err := kr.SealSecret([]byte("rtsp-password"), aad)
	if err != nil {
		t.Fatalf("SealSecret failed: %v", err)
	}

	secret, err := kr.OpenSecret(kid, wrappedDEK, sealed, aad)
	if err != nil {
		t.Fatalf("OpenSecret failed: %v", err)
	}
	if string(secret) != "rtsp-password" {
		t.Error("Secret mismatch")
	}

	// A credential sealed for one camera must not open for another.
	if _, err := kr.OpenSecret(kid, wrappedDEK, sealed, []byte("CAM_OTHER")); err == nil {
		t.Error("Expected AAD mismatch to fail")
	}
}

func TestKeyring_Failures(t *testing.T) {
	t.Setenv("MASTER_KEYS", "")
	kr := crypto.NewKeyring()
	if err := kr.LoadFromEnv(); err == nil {
		t.Error("Expected error on empty keys")
	}

	badKey := base64.StdEncoding.EncodeToString([]byte("short"))
	keysJSON := `[{"kid":"bad","material":"` + badKey + `"}]`
	t.Setenv("MASTER_KEYS", keysJSON)
	t.Setenv("ACTIVE_MASTER_KID", "bad")
	if err := kr.LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "invalid key length") {
		t.Error("Expected invalid length error")
	}
}
