package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidCPF is returned when a CPF does not reduce to exactly 11 digits.
var ErrInvalidCPF = errors.New("CPF must contain exactly 11 digits")

// NormalizeCPF strips punctuation and returns the 11 digits.
func NormalizeCPF(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			if r > unicode.MaxASCII {
				return "", ErrInvalidCPF
			}
			b.WriteRune(r)
		}
	}
	if b.Len() != 11 {
		return "", ErrInvalidCPF
	}
	return b.String(), nil
}

// HashCPF returns the customer lookup key for normalized CPF digits.
func HashCPF(digits string) string {
	sum := sha256.Sum256([]byte(digits))
	return hex.EncodeToString(sum[:])
}

// CPFLookupKey normalizes and hashes in one step.
func CPFLookupKey(raw string) (string, error) {
	digits, err := NormalizeCPF(raw)
	if err != nil {
		return "", err
	}
	return HashCPF(digits), nil
}
