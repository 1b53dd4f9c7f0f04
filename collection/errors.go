package collection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an identity or unique-key lookup resolves
	// to no document.
	ErrNotFound = errors.New("document not found")

	// ErrHasID is returned when Insert receives a document that already
	// carries an engine-assigned identity.
	ErrHasID = errors.New("document already carries an id")

	// ErrMissingID is returned when Update or Remove receive a document that
	// was never inserted.
	ErrMissingID = errors.New("document carries no id")

	// ErrClosed is returned for operations on a closed collection.
	ErrClosed = errors.New("collection is closed")
)

// DuplicateKeyError reports a unique-constraint collision. The failing
// insert or update is rejected whole; no index or document state changes.
type DuplicateKeyError struct {
	Field string
	Value any
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("unique constraint on field %q value %v", e.Field, e.Value)
}

// DuplicateNameError reports a name collision for a registered object
// (dynamic view or transform) within one collection.
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate %s name %q", e.Kind, e.Name)
}

// NotUniqueFieldError is returned by By when the field has no registered
// unique index.
type NotUniqueFieldError struct {
	Field string
}

func (e *NotUniqueFieldError) Error() string {
	return fmt.Sprintf("field %q has no unique index", e.Field)
}

// UnknownTransformError is returned when a named transform does not exist.
type UnknownTransformError struct {
	Name string
}

func (e *UnknownTransformError) Error() string {
	return fmt.Sprintf("unknown transform %q", e.Name)
}

// UnknownFilterError is returned when removing a view filter whose uid is
// not registered.
type UnknownFilterError struct {
	UID string
}

func (e *UnknownFilterError) Error() string {
	return fmt.Sprintf("unknown view filter uid %q", e.UID)
}

// UnknownViewError is returned when a named dynamic view does not exist.
type UnknownViewError struct {
	Name string
}

func (e *UnknownViewError) Error() string {
	return fmt.Sprintf("unknown dynamic view %q", e.Name)
}
