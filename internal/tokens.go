package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// SecretSize is the length of the random half of every opaque token.
const SecretSize = 32

const opaqueTokenSize = 16 + SecretSize

var (
	errTokenEncoding = errors.New("invalid token encoding")
	errTokenSize     = errors.New("invalid token size")
)

// ID is a random 128-bit identifier rendered as unpadded base64url.
type ID [16]byte

// Secret is the caller-held half of an opaque token. Only its hash is stored.
type Secret [SecretSize]byte

func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

func NewSecret() (Secret, error) {
	var s Secret
	_, err := rand.Read(s[:])
	return s, err
}

// Hash returns sha256(secret).
func (s Secret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// NewOpaqueToken returns a fresh id/secret pair and its wire encoding
// base64url(id || secret).
func NewOpaqueToken() (ID, Secret, string, error) {
	id, err := NewID()
	if err != nil {
		return ID{}, Secret{}, "", err
	}
	secret, err := NewSecret()
	if err != nil {
		return ID{}, Secret{}, "", err
	}
	return id, secret, EncodeOpaqueToken(id, secret), nil
}

func EncodeOpaqueToken(id ID, secret Secret) string {
	var raw [opaqueTokenSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func DecodeOpaqueToken(token string) (ID, Secret, error) {
	var (
		id     ID
		secret Secret
	)
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, errTokenEncoding
	}
	if len(raw) != opaqueTokenSize {
		return id, secret, errTokenSize
	}
	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}
