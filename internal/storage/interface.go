package storage

import "context"

// ObjectStorage is the subset of an object store used to mirror result snapshots.
type ObjectStorage interface {
	// Put writes data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// URL returns where key can be read from.
	URL(key string) string
}
