package collection

import (
	"time"

	"golang.org/x/text/language"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/query"
)

type options struct {
	uniqueFields    []string
	indexFields     []string
	clone           document.CloneStrategy
	adaptiveIndices bool
	ttlAge          time.Duration
	ttlInterval     time.Duration
	changesAPI      bool
	collator        *query.Collator
	asyncEvents     bool
	asyncBuffer     int
}

// Option configures a Collection at construction time.
type Option func(*options)

// WithUniqueIndex registers unique constraints on the given fields. Each
// field maps one value to at most one document.
func WithUniqueIndex(fields ...string) Option {
	return func(o *options) {
		o.uniqueFields = append(o.uniqueFields, fields...)
	}
}

// WithIndex builds maintained binary indices on the given fields, enabling
// ordered and range queries without a full scan.
func WithIndex(fields ...string) Option {
	return func(o *options) {
		o.indexFields = append(o.indexFields, fields...)
	}
}

// WithClone selects the clone strategy for documents entering and leaving
// the collection.
//
// The strategy fixes the read discipline: CloneNone returns live references,
// any cloning strategy returns independent copies.
func WithClone(strategy document.CloneStrategy) Option {
	return func(o *options) {
		o.clone = strategy
	}
}

// WithAdaptiveIndices selects incremental binary index maintenance: each
// insert and update repositions the single affected entry instead of marking
// the index dirty for a lazy full rebuild.
func WithAdaptiveIndices(adaptive bool) Option {
	return func(o *options) {
		o.adaptiveIndices = adaptive
	}
}

// WithTTL removes documents whose last update (or creation) is older than
// age. A sweeper fires every interval and routes removals through the normal
// remove path so indices and views stay consistent.
func WithTTL(age, interval time.Duration) Option {
	return func(o *options) {
		o.ttlAge = age
		o.ttlInterval = interval
	}
}

// WithChangesAPI enables the change log: every insert, update and remove
// appends an I/U/R record retrievable via Changes.
func WithChangesAPI(enabled bool) Option {
	return func(o *options) {
		o.changesAPI = enabled
	}
}

// WithCollation sets the language used for locale-aware string comparison in
// sorts and range queries. Default is English.
func WithCollation(tag language.Tag) Option {
	return func(o *options) {
		o.collator = query.NewCollator(tag)
	}
}

// WithAsyncEvents switches the collection's emitter to deferred delivery:
// handlers run on a worker goroutine instead of inside the mutating call.
func WithAsyncEvents(buffer int) Option {
	return func(o *options) {
		o.asyncEvents = true
		o.asyncBuffer = buffer
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		clone:    document.CloneNone,
		collator: query.NewCollator(language.English),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
