package domain

import (
	"crypto/rand"
	"errors"
)

const (
	CodeLength   = 8
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	ErrCodeEmpty   = errors.New("code empty")
	ErrCodeInvalid = errors.New("code must be 8 alphanumeric characters")
)

// NewCode returns a random rendezvous code. Bytes >= 248 are rejected so
// every character of the alphabet is equally likely.
func NewCode() (string, error) {
	const limit = 256 - 256%len(CodeAlphabet)
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, CodeAlphabet[int(b)%len(CodeAlphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// ValidateCode checks the rendezvous code form.
func ValidateCode(code string) error {
	if code == "" {
		return ErrCodeEmpty
	}
	if len(code) != CodeLength {
		return ErrCodeInvalid
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9') {
			return ErrCodeInvalid
		}
	}
	return nil
}
