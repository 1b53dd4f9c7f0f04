package docgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/docgo/adapter"
)

var (
	// ErrNotFound is returned when no persisted image exists for the
	// database name.
	ErrNotFound = errors.New("database not found")

	// ErrNoAdapter is returned by Save and Load when the database was
	// constructed without a persistence adapter.
	ErrNoAdapter = errors.New("no persistence adapter configured")

	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database is closed")
)

// UnknownCollectionError indicates a lookup for a collection name the
// database does not hold.
type UnknownCollectionError struct {
	Name string
}

func (e *UnknownCollectionError) Error() string {
	return fmt.Sprintf("unknown collection %q", e.Name)
}

// UnsupportedFormatError indicates a persisted image whose format version
// this build cannot decode.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type UnsupportedFormatError struct {
	Version int
	cause   error
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image format version %d", e.Version)
}

func (e *UnsupportedFormatError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, adapter.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}
