package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// joinCodeAlphabet drops 0/O and 1/I so codes survive being read aloud.
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// HashPassword hashes a plain password using bcrypt.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares plain password with hashed password.
func CheckPassword(plain, hashed string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}

// JoinCode returns a random human-shareable code of length n.
func JoinCode(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("join code length must be positive, got %d", n)
	}
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("join code: %w", err)
		}
		out[i] = joinCodeAlphabet[idx.Int64()]
	}
	return string(out), nil
}
