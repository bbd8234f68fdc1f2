package cameras

import (
	"context"
	"errors"
	"log"

	"github.com/technosupport/ts-ppe/internal/data"
)

// sealPassword envelope-encrypts a stream password and stores it, keyed to
// the camera id as AAD so a blob cannot be replayed against another camera.
// Losing the credential is not fatal; capture degrades to anonymous access
// and the operator can set it again.
func (s *Service) sealPassword(ctx context.Context, cameraID, password string) {
	if s.Keyring == nil || s.Credentials == nil {
		log.Printf("[CAMERAS] no keyring configured, dropping password for %s", cameraID)
		return
	}
	kid, wrappedDEK, sealed, err := s.Keyring.SealSecret([]byte(password), []byte(cameraID))
	if err != nil {
		log.Printf("[CAMERAS] sealing credential for %s failed: %v", cameraID, err)
		return
	}
	cred := &data.CameraCredential{
		CameraID:   cameraID,
		KID:        kid,
		WrappedDEK: wrappedDEK,
		Ciphertext: sealed,
	}
	if err := s.Credentials.Upsert(ctx, cred); err != nil {
		log.Printf("[CAMERAS] storing credential for %s failed: %v", cameraID, err)
	}
}

func (s *Service) dropCredential(ctx context.Context, cameraID string) {
	if s.Credentials == nil {
		return
	}
	if err := s.Credentials.Delete(ctx, cameraID); err != nil && !errors.Is(err, data.ErrRecordNotFound) {
		log.Printf("[CAMERAS] deleting credential for %s failed: %v", cameraID, err)
	}
}
