// Package kv provides namespaced key-value buckets with SQLite persistence
// and an in-memory option. Values are serialized documents; each key is
// read and written as a full-document replace.
package kv

// Bucket is the interface for key-value storage operations.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// IsPersistent returns true if the bucket is backed by SQLite.
	IsPersistent() bool

	// Store serializes value and saves it under key, replacing any
	// previous document.
	Store(key string, value any) error

	// Get deserializes the document under key into out.
	// Returns false if the key doesn't exist.
	Get(key string, out any) (bool, error)

	// Delete removes a key from the bucket.
	// Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all keys in the bucket.
	Keys() ([]string, error)

	// Clear removes all keys from the bucket.
	Clear() error
}
