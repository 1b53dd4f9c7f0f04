// Package adapter provides the pluggable persistence backends that load and
// save serialized database images.
//
// The contract is deliberately byte-oriented: the database serializes itself
// and hands the adapter an opaque blob keyed by database name. Adapters may
// wrap one another; Compressed and Crypted decorate any inner adapter with a
// framed transform of the payload.
package adapter

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no database with the given name has
// been saved.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("database not found")

// Adapter is the persistence contract consumed by the database.
//
// Load and Save are the only genuinely asynchronous operations in the
// engine; both take a context and must be awaited by the caller. Adapters
// perform no retries of their own.
type Adapter interface {
	// Load reads the serialized database image, or ErrNotFound when absent.
	Load(ctx context.Context, name string) ([]byte, error)

	// Save writes the serialized database image.
	Save(ctx context.Context, name string, data []byte) error
}

// Deleter is an optional extension for adapters that can remove a persisted
// database.
type Deleter interface {
	Delete(ctx context.Context, name string) error
}

// Partition is one independently-replaceable piece of a partitioned save,
// keyed by collection name.
type Partition struct {
	Name string
	Data []byte
}

// PartitionStore is an extension for adapters that persist a database as a
// manifest plus per-collection partitions, so a save only rewrites what
// changed. A PartitionStore is still a full Adapter; the monolithic Load and
// Save operate on whole images.
//
// SavePartitioned receives only dirty partitions; untouched partitions stay
// as previously written. LoadPartitioned returns every stored partition.
type PartitionStore interface {
	Adapter

	SavePartitioned(ctx context.Context, name string, manifest []byte, parts []Partition) error
	LoadPartitioned(ctx context.Context, name string) (manifest []byte, parts []Partition, err error)
}
