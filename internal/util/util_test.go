package util

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestAES(t *testing.T) {
	key, _ := NewAESKey()
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("EncryptDecryptWithAAD", func(t *testing.T) {
		cipherText, err := EncryptAESWithAAD(plainText, key, aad)
		if err != nil {
			t.Fatalf("EncryptAESWithAAD failed: %v", err)
		}

		decrypted, err := DecryptAESWithAAD(cipherText, key, aad)
		if err != nil {
			t.Fatalf("DecryptAESWithAAD failed: %v", err)
		}

		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		_, err := DecryptAESWithAAD(cipherText, key, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		_, err := DecryptAESWithAAD(cipherText, key, aad)
		if err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, err := EncryptAESWithAAD(plainText, []byte("too short"), aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectShortCipherText", func(t *testing.T) {
		_, err := DecryptAESWithAAD([]byte{1, 2, 3}, key, aad)
		if err == nil {
			t.Error("expected error with truncated ciphertext, got nil")
		}
	})
}

func TestPBKDF2(t *testing.T) {
	// Keep the test fast; production uses DefaultPBKDF2Params.
	params := PBKDF2Params{Iterations: 1000, KeyLen: 32, SaltLen: 32}
	password := "correct horse battery staple"
	salt := []byte("random salt")

	key, err := DerivePBKDF2Key(password, salt, params)
	if err != nil {
		t.Fatalf("DerivePBKDF2Key failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected key length 32, got %d", len(key))
	}

	again, _ := DerivePBKDF2Key(password, salt, params)
	if !bytes.Equal(key, again) {
		t.Error("DerivePBKDF2Key should be deterministic")
	}

	match, err := ComparePBKDF2Key(password, salt, params, key)
	if err != nil {
		t.Fatalf("ComparePBKDF2Key failed: %v", err)
	}
	if !match {
		t.Error("expected ComparePBKDF2Key to return true")
	}

	match, _ = ComparePBKDF2Key("wrong password", salt, params, key)
	if match {
		t.Error("expected ComparePBKDF2Key to return false for wrong password")
	}

	if _, err := DerivePBKDF2Key(password, salt, PBKDF2Params{Iterations: 0, KeyLen: 32}); err == nil {
		t.Error("expected error for zero iterations")
	}

	defaults := DefaultPBKDF2Params()
	if defaults.Iterations != 500000 || defaults.KeyLen != 32 || defaults.SaltLen != 32 {
		t.Errorf("unexpected default params: %+v", defaults)
	}
}

func TestBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}

	copied := CopyBytes(a)
	if !bytes.Equal(copied, a) {
		t.Error("CopyBytes failed")
	}
	copied[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("CopyBytes should return a new slice")
	}

	WipeBytes(copied)
	if !bytes.Equal(copied, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left data behind: %v", copied)
	}
}

func TestEncoding(t *testing.T) {
	s := "test string"
	encoded := HexEncode([]byte(s))
	decoded, err := HexDecode(encoded)
	if err != nil {
		t.Fatalf("HexDecode failed: %v", err)
	}
	if string(decoded) != s {
		t.Errorf("expected %s, got %s", s, string(decoded))
	}

	if got := Normalize("cafe\u0301"); got != "caf\u00e9" {
		t.Errorf("Normalize should compose combining marks, got %q", got)
	}
	if got := Normalize("\uff21"); got != "A" {
		t.Errorf("Normalize should fold fullwidth forms, got %q", got)
	}
}

func TestRandom(t *testing.T) {
	t.Run("RandomBytes", func(t *testing.T) {
		b1, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		b2, _ := RandomBytes(32)
		if len(b1) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b1))
		}
		if bytes.Equal(b1, b2) {
			t.Error("RandomBytes returned identical output twice")
		}
	})

	t.Run("RandomToken", func(t *testing.T) {
		tok, err := RandomToken(32)
		if err != nil {
			t.Fatalf("RandomToken failed: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(tok)
		if err != nil {
			t.Fatalf("token is not base64url: %v", err)
		}
		if len(raw) != 32 {
			t.Errorf("expected 32 decoded bytes, got %d", len(raw))
		}
	})
}
