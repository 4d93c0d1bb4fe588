// Package storage provides the record storage layer shared by accounts,
// connections and persistent sessions.
//
// Records are addressed by (namespace, recordType, recordID). Each backend
// stores an Envelope per key and supports compare-and-swap writes so callers
// can enforce uniqueness without an external lock.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	// An expected version of 0 means "the record must not exist yet".
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides record operations within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Get(recordType string, recordID string) (*Envelope, error)
	Put(recordType string, recordID string, envelope *Envelope) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for record storage.
type Repository interface {
	Put(ctx context.Context, namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(ctx context.Context, namespace string, recordType string, recordID string) (*Envelope, error)
	Delete(ctx context.Context, namespace string, recordType string, recordID string) error
	List(ctx context.Context, namespace string, recordType string) ([]string, error)
	PutCAS(ctx context.Context, namespace string, recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Batch(ctx context.Context, namespace string, fn func(tx BatchTx) error) error
}
