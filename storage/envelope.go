package storage

import (
	"fmt"

	"github.com/subtask-dev/subtask/internal/util"
)

const (
	// SchemePlain stores the payload as-is (JSON documents without secrets).
	SchemePlain = "plain"
	// SchemeAES256GCM stores an AES-256-GCM ciphertext.
	SchemeAES256GCM = "aes256gcm"

	envelopeVer = 1
)

// Envelope is a stored record: either a plain payload or a sealed one.
type Envelope struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Nonce   []byte `json:"nonce,omitempty"`
	Payload []byte `json:"payload"`
	Version uint64 `json:"version,omitempty"`
}

// PlainRecord wraps data in an unencrypted Envelope.
func PlainRecord(data []byte, version uint64) *Envelope {
	return &Envelope{
		Ver:     envelopeVer,
		Scheme:  SchemePlain,
		Payload: util.CopyBytes(data),
		Version: version,
	}
}

// OpenPlainRecord returns the payload of an Envelope created by PlainRecord.
func OpenPlainRecord(envelope *Envelope) ([]byte, error) {
	if envelope.Ver != envelopeVer {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemePlain {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}
	return util.CopyBytes(envelope.Payload), nil
}

// SealRecord encrypts plaintext into an Envelope using the given record key and AAD.
func SealRecord(recordKey, plaintext, aad []byte, version uint64) (*Envelope, error) {
	sealed, err := util.EncryptAESWithAAD(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}

	// util.EncryptAESWithAAD returns nonce || ciphertext.
	return &Envelope{
		Ver:     envelopeVer,
		Scheme:  SchemeAES256GCM,
		Nonce:   sealed[:12],
		Payload: sealed[12:],
		Version: version,
	}, nil
}

// OpenRecord decrypts an Envelope using the given record key and AAD.
func OpenRecord(recordKey []byte, envelope *Envelope, aad []byte) ([]byte, error) {
	if envelope.Ver != envelopeVer {
		return nil, fmt.Errorf("unsupported envelope version: %d", envelope.Ver)
	}
	if envelope.Scheme != SchemeAES256GCM {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", envelope.Scheme)
	}

	full := make([]byte, 0, len(envelope.Nonce)+len(envelope.Payload))
	full = append(full, envelope.Nonce...)
	full = append(full, envelope.Payload...)
	return util.DecryptAESWithAAD(full, recordKey, aad)
}
