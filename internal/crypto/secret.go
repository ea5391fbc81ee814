package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const NonceSize = chacha20poly1305.NonceSize

var sasInfo = []byte("nyx sas v1")

// SharedSecret is the symmetric session key derived by Agree.
type SharedSecret struct {
	key   [KeySize]byte
	wiped bool
}

// Seal encrypts plaintext with a fresh random nonce. ad is authenticated
// but not encrypted.
func (s *SharedSecret) Seal(plaintext, ad []byte) (nonce, ciphertext []byte, err error) {
	if s == nil || s.wiped {
		return nil, nil, ErrWiped
	}
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, ad), nil
}

// Open decrypts and authenticates ciphertext.
func (s *SharedSecret) Open(nonce, ciphertext, ad []byte) ([]byte, error) {
	if s == nil || s.wiped {
		return nil, ErrWiped
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("bad nonce size %d", len(nonce))
	}
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, ad)
}

// SAS returns the two-word authentication string both peers compare.
func (s *SharedSecret) SAS() (string, error) {
	if s == nil || s.wiped {
		return "", ErrWiped
	}
	var idx [2]byte
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.key[:], nil, sasInfo), idx[:]); err != nil {
		return "", err
	}
	return sasWords[idx[0]] + "-" + sasWords[idx[1]], nil
}

// Wipe zeroes the key. Safe to call more than once.
func (s *SharedSecret) Wipe() {
	if s == nil {
		return
	}
	Wipe(s.key[:])
	s.wiped = true
}
