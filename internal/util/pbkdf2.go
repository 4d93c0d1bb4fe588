package util

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Params configures PBKDF2-HMAC-SHA256 derivation.
type PBKDF2Params struct {
	Iterations int `json:"iterations"`
	KeyLen     int `json:"key_len"`
	SaltLen    int `json:"salt_len"`
}

func DefaultPBKDF2Params() PBKDF2Params {
	return PBKDF2Params{
		Iterations: 500000,
		KeyLen:     32,
		SaltLen:    32,
	}
}

func DerivePBKDF2Key(password string, salt []byte, params PBKDF2Params) ([]byte, error) {
	if params.Iterations < 1 {
		return nil, fmt.Errorf("pbkdf2 iterations must be positive")
	}
	if params.KeyLen < 16 {
		return nil, fmt.Errorf("pbkdf2 key length must be at least 16 bytes")
	}
	return pbkdf2.Key([]byte(password), salt, params.Iterations, params.KeyLen, sha256.New), nil
}

// ComparePBKDF2Key derives a key from password and compares it with
// expectedKey in constant time.
func ComparePBKDF2Key(password string, salt []byte, params PBKDF2Params, expectedKey []byte) (bool, error) {
	key, err := DerivePBKDF2Key(password, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}
