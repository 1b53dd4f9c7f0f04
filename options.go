package docgo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/docgo/adapter"
	"github.com/hupe1980/docgo/codec"
)

// Format selects the on-disk layout of a serialized database image.
type Format int

const (
	// FormatJSON is a single compact JSON document. The default.
	FormatJSON Format = iota
	// FormatPretty is indented JSON, for images meant to be read by humans.
	FormatPretty
	// FormatDestructured is a line-oriented layout with one section per
	// collection and one document per line. Collections are encoded in
	// parallel, and a damaged line loses one document, not the image.
	FormatDestructured
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatPretty:
		return "pretty"
	case FormatDestructured:
		return "destructured"
	default:
		return "unknown"
	}
}

type options struct {
	adapter          adapter.Adapter
	codec            codec.Codec
	logger           *Logger
	format           Format
	autosaveInterval time.Duration
	saveThrottle     time.Duration
}

// Option configures database constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. adapter-specific constructor variants).
type Option func(*options)

// WithAdapter configures the persistence adapter used by Save, Load and
// autosave. Without an adapter the database is purely in-memory.
func WithAdapter(a adapter.Adapter) Option {
	return func(o *options) {
		o.adapter = a
	}
}

// WithCodec configures the codec used for encoding and decoding images.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithFormat configures the serialization layout for saved images.
// Loads detect the layout from the image itself.
func WithFormat(f Format) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithAutosave enables background saves at the given interval. A cycle only
// writes when at least one collection changed since the previous save.
// Requires an adapter.
func WithAutosave(interval time.Duration) Option {
	return func(o *options) {
		o.autosaveInterval = interval
	}
}

// WithSaveThrottle sets a minimum spacing between adapter writes. Save calls
// inside the window return immediately and leave the dirty state for the
// next cycle. Zero disables throttling.
func WithSaveThrottle(minInterval time.Duration) Option {
	return func(o *options) {
		o.saveThrottle = minInterval
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := docgo.NewJSONLogger(slog.LevelInfo)
//	db := docgo.New("app", docgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:  codec.Default,
		logger: NoopLogger(),
		format: FormatJSON,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
