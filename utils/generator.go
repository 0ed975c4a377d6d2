package utils

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const digitBytes = "0123456789"

// GenerateNumericCode returns a uniformly random string of n decimal digits.
// Leading zeros are kept, so the code space is exactly 10^n.
func GenerateNumericCode(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("code length must be positive")
	}
	max := big.NewInt(int64(len(digitBytes)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = digitBytes[idx.Int64()]
	}
	return string(b), nil
}
