package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost trades ~250ms of login latency for resistance to offline
// cracking. Raising it transparently re-costs new hashes; old ones keep
// verifying.
const bcryptCost = 12

// dummyHash is a valid bcrypt hash computed once at startup. Login compares
// against it when the user does not exist so the response time does not
// reveal which usernames are real.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcryptCost)
	if err != nil {
		panic(err)
	}
	return h
}()

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a password against an encoded hash. A malformed
// hash is an error; a clean mismatch is (false, nil).
func CheckPassword(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

// BurnTime performs a throwaway hash comparison. Call it on the
// user-not-found path so failed lookups cost the same as failed passwords.
func BurnTime(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
