// Package storage provides database abstractions.
package storage

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch stages writes and deletes that become visible atomically on Commit.
// A batch is single-use: after Commit it must be discarded.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	// Discard drops everything staged without applying it. Safe to call
	// after Commit, so callers can defer it unconditionally.
	Discard()
}

// Batcher is implemented by DBs that support atomic write batches.
type Batcher interface {
	NewBatch() Batch
}
