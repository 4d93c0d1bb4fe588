package account

import (
	"fmt"

	"github.com/subtask-dev/subtask/internal/util"
)

// Hasher derives and verifies salted PBKDF2-HMAC-SHA256 password hashes.
// Hashes and salts are hex encoded.
type Hasher struct {
	params util.PBKDF2Params
}

// NewHasher returns a Hasher using params.
func NewHasher(params util.PBKDF2Params) Hasher {
	return Hasher{params: params}
}

// DefaultHasher uses 500,000 iterations, a 32-byte salt and a 32-byte key.
func DefaultHasher() Hasher {
	return NewHasher(util.DefaultPBKDF2Params())
}

// Hash derives a hash of password under a freshly generated random salt.
func (h Hasher) Hash(password string) (hash, salt string, err error) {
	rawSalt, err := util.RandomBytes(h.params.SaltLen)
	if err != nil {
		return "", "", err
	}
	key, err := util.DerivePBKDF2Key(util.Normalize(password), rawSalt, h.params)
	if err != nil {
		return "", "", fmt.Errorf("hashing password: %w", err)
	}
	defer util.WipeBytes(key)
	return util.HexEncode(key), util.HexEncode(rawSalt), nil
}

// Verify reports whether password matches the stored hash and salt. The
// comparison is constant time. Malformed stored values never match.
func (h Hasher) Verify(password, hash, salt string) bool {
	rawSalt, err := util.HexDecode(salt)
	if err != nil {
		return false
	}
	want, err := util.HexDecode(hash)
	if err != nil || len(want) != h.params.KeyLen {
		return false
	}
	ok, err := util.ComparePBKDF2Key(util.Normalize(password), rawSalt, h.params, want)
	return err == nil && ok
}
