// Package db defines a minimal key-value database abstraction with atomic
// write transactions. The production backend is pebbledb; inmemory exists
// for tests.
package db

import "errors"

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrTxDone is returned when committing a transaction that was already
	// committed or discarded.
	ErrTxDone = errors.New("transaction already committed or discarded")
)

// Options configures the opening of a Database.
type Options struct {
	Path string
}

// Reader provides read access to the keyspace.
type Reader interface {
	// Get retrieves the value for the given key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback with every key-value pair whose key has the
	// given prefix, in ascending key order, until callback returns false.
	// The callback arguments are only valid during the call.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx is a set of writes applied atomically on Commit. Reads observe
// the transaction's own pending writes.
type WriteTx interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Discard()
}

// Database is a key-value store with atomic multi-key writes.
type Database interface {
	Reader
	WriteTx() WriteTx
	Close() error
}
