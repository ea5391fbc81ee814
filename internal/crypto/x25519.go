package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const KeySize = 32

var (
	ErrBadPublicKey = errors.New("invalid public key")
	ErrWiped        = errors.New("key material wiped")
)

var sessionInfo = []byte("nyx session v1")

// KeyPair is an ephemeral X25519 key pair. It is never persisted.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
	wiped   bool
}

// GenerateKeyPair returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, err
	}
	clamp(&kp.Private)
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// EncodedPublic returns the public key in its wire form.
func (kp *KeyPair) EncodedPublic() string {
	return base64.StdEncoding.EncodeToString(kp.Public[:])
}

// Wipe zeroes both halves of the key pair. Safe to call more than once.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	Wipe(kp.Private[:])
	Wipe(kp.Public[:])
	kp.wiped = true
}

// DecodePublicKey parses a public key in its wire form.
func DecodePublicKey(s string) ([KeySize]byte, error) {
	var out [KeySize]byte
	if s == "" {
		return out, fmt.Errorf("%w: missing", ErrBadPublicKey)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	if len(raw) != KeySize {
		return out, fmt.Errorf("%w: want %d bytes, got %d", ErrBadPublicKey, KeySize, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Agree runs X25519 between kp and peer and expands the result with HKDF.
// The salt commits to both public keys in a fixed order so both ends
// derive the same key.
func Agree(kp *KeyPair, peer [KeySize]byte) (*SharedSecret, error) {
	if kp == nil || kp.wiped {
		return nil, ErrWiped
	}
	dh, err := curve25519.X25519(kp.Private[:], peer[:])
	if err != nil {
		return nil, err
	}
	defer Wipe(dh)

	lo, hi := kp.Public[:], peer[:]
	if bytes.Compare(lo, hi) > 0 {
		lo, hi = hi, lo
	}
	h := sha256.New()
	h.Write(lo)
	h.Write(hi)
	salt := h.Sum(nil)

	s := &SharedSecret{}
	if _, err := io.ReadFull(hkdf.New(sha256.New, dh, salt, sessionInfo), s.key[:]); err != nil {
		return nil, err
	}
	return s, nil
}

func clamp(k *[KeySize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
