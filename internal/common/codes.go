package common

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	// ConfirmationCodeLength is the length of codes mailed to submitters.
	ConfirmationCodeLength = 16
	// VisibleIDLength is the length of user-facing task slugs.
	VisibleIDLength = 8
)

// randomCode returns an alphanumeric string of length n drawn from
// crypto/rand.
func randomCode(n int) string {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; fall back to a fixed character rather than crash.
			buf[i] = codeAlphabet[0]
			continue
		}
		buf[i] = codeAlphabet[idx.Int64()]
	}
	return string(buf)
}

// NewConfirmationCode generates a 16-character confirmation code.
func NewConfirmationCode() string {
	return randomCode(ConfirmationCodeLength)
}

// NewVisibleID generates an 8-character slug for user-facing task
// references.
func NewVisibleID() string {
	return randomCode(VisibleIDLength)
}

// NewWorkDirID generates a unique name for a per-task working directory.
func NewWorkDirID() string {
	return uuid.New().String()
}
