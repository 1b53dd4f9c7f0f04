// Package docgo provides an embedded, in-process document database for Go.
//
// A Database is a named registry of collections. Each collection holds
// schema-free JSON-style documents with stamped ids and revision metadata,
// and supports rich queries, binary and unique indices, chained result sets
// and incrementally maintained dynamic views.
//
// # Quick Start
//
//	db := docgo.New("app")
//	users, _ := db.AddCollection("users",
//	    collection.WithUniqueIndex("email"),
//	    collection.WithIndex("age"),
//	)
//
//	doc, _ := users.Insert(document.D{"name": "odin", "email": "o@v.io", "age": 50})
//
//	old, _ := users.Chain().
//	    Find(query.Q{"age": query.Q{"$gte": 40}}).
//	    SimpleSort("age", false).
//	    Limit(10).
//	    Data()
//
// # Persistence
//
// Persistence is adapter based. The adapter package ships in-memory and
// filesystem adapters plus compressing and encrypting decorators; the
// adapter/s3, adapter/minio and adapter/dynamo subpackages persist to
// object storage.
//
//	fs, _ := adapter.NewFilesystem("./data")
//	db := docgo.New("app",
//	    docgo.WithAdapter(adapter.NewCompressed(fs, adapter.Zstd)),
//	    docgo.WithAutosave(5*time.Second),
//	)
//	defer db.Close(ctx)
package docgo

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hupe1980/docgo/adapter"
	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/collection"
	"github.com/hupe1980/docgo/events"
)

// Database lifecycle events published via Events.
const (
	// EventInit fires once when New returns.
	EventInit events.Event = "init"
	// EventLoaded fires after Load swaps in a restored image.
	EventLoaded events.Event = "loaded"
	// EventFlushChanges fires when FlushChanges drops collected change logs.
	EventFlushChanges events.Event = "flushChanges"
	// EventClose fires when Close finishes, with the final save error if any.
	EventClose events.Event = "close"
)

// Database is a named registry of collections with optional persistence.
//
// All methods are safe for concurrent use. Collections returned by
// AddCollection and GetCollection remain valid until RemoveCollection or
// Close.
type Database struct {
	name       string
	instanceID string

	mu      sync.Mutex
	ordered []*collection.Collection
	byName  map[string]*collection.Collection
	closed  bool

	adapter  adapter.Adapter
	codec    codec.Codec
	logger   *Logger
	format   Format
	throttle *rate.Limiter
	autosave *autosaver
	emitter  *events.Emitter
}

// New creates an empty database. The name doubles as the key under which
// the adapter stores the serialized image.
func New(name string, optFns ...Option) *Database {
	o := applyOptions(optFns)

	db := &Database{
		name:       name,
		instanceID: uuid.NewString(),
		byName:     map[string]*collection.Collection{},
		adapter:    o.adapter,
		codec:      o.codec,
		logger:     o.logger,
		format:     o.format,
		emitter:    events.NewEmitter(),
	}
	if o.saveThrottle > 0 {
		db.throttle = rate.NewLimiter(rate.Every(o.saveThrottle), 1)
	}
	if o.autosaveInterval > 0 && o.adapter != nil {
		db.autosave = startAutosaver(db, o.autosaveInterval)
	}

	db.emitter.Emit(EventInit, db.name)

	return db
}

// Events returns the database lifecycle event emitter.
func (db *Database) Events() *events.Emitter { return db.emitter }

// Name returns the database name.
func (db *Database) Name() string { return db.name }

// InstanceID returns the identifier stamped into every image this database
// saves. A fresh id is generated on New; Load adopts the persisted one.
func (db *Database) InstanceID() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.instanceID
}

// AddCollection creates and registers a new collection.
func (db *Database) AddCollection(name string, optFns ...collection.Option) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if _, ok := db.byName[name]; ok {
		return nil, &collection.DuplicateNameError{Kind: "collection", Name: name}
	}

	c := collection.New(name, optFns...)
	db.ordered = append(db.ordered, c)
	db.byName[name] = c

	return c, nil
}

// GetCollection returns the registered collection with the given name.
func (db *Database) GetCollection(name string) (*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.byName[name]
	if !ok {
		return nil, &UnknownCollectionError{Name: name}
	}
	return c, nil
}

// GetOrAddCollection returns the registered collection, creating it with the
// given options when absent.
func (db *Database) GetOrAddCollection(name string, optFns ...collection.Option) (*collection.Collection, error) {
	db.mu.Lock()
	if c, ok := db.byName[name]; ok {
		db.mu.Unlock()
		return c, nil
	}
	db.mu.Unlock()
	return db.AddCollection(name, optFns...)
}

// RemoveCollection unregisters and closes the named collection. Removing an
// unknown collection is not an error.
func (db *Database) RemoveCollection(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.byName[name]
	if !ok {
		return
	}
	delete(db.byName, name)
	for i, o := range db.ordered {
		if o == c {
			db.ordered = append(db.ordered[:i], db.ordered[i+1:]...)
			break
		}
	}
	c.Close()
}

// RenameCollection changes a collection's registered name. The collection
// keeps its data, indices and views.
func (db *Database) RenameCollection(oldName, newName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.byName[oldName]
	if !ok {
		return &UnknownCollectionError{Name: oldName}
	}
	if _, ok := db.byName[newName]; ok && newName != oldName {
		return &collection.DuplicateNameError{Kind: "collection", Name: newName}
	}

	delete(db.byName, oldName)
	c.Rename(newName)
	db.byName[newName] = c

	return nil
}

// ListCollections returns the registered collection names in creation order.
func (db *Database) ListCollections() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	names := make([]string, len(db.ordered))
	for i, c := range db.ordered {
		names[i] = c.Name()
	}
	return names
}

// Collections returns the registered collections in creation order.
func (db *Database) Collections() []*collection.Collection {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]*collection.Collection(nil), db.ordered...)
}

// Close stops autosave, performs a final save when there are unsaved
// mutations and an adapter is configured, and closes every collection.
// Close is idempotent.
func (db *Database) Close(ctx context.Context) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	auto := db.autosave
	db.autosave = nil
	db.mu.Unlock()

	if auto != nil {
		auto.stop()
	}

	var err error
	if db.adapter != nil && db.anyDirty() {
		err = db.save(ctx, false)
	}

	db.mu.Lock()
	for _, c := range db.ordered {
		c.Close()
	}
	db.mu.Unlock()

	db.logger.LogClose(ctx, db.name, err)
	db.emitter.Emit(EventClose, db.name, err)
	db.emitter.Close()

	return err
}

// SerializeChanges encodes the accumulated change logs of the named
// collections, or of every collection when no names are given. The logs are
// concatenated in registration order; unknown names are an error.
func (db *Database) SerializeChanges(names ...string) ([]byte, error) {
	cols, err := db.selectCollections(names)
	if err != nil {
		return nil, err
	}

	changes := []collection.Change{}
	for _, c := range cols {
		changes = append(changes, c.Changes()...)
	}
	return db.codec.Marshal(changes)
}

// FlushChanges drops the accumulated change logs of the named collections,
// or of every collection when no names are given.
func (db *Database) FlushChanges(names ...string) error {
	cols, err := db.selectCollections(names)
	if err != nil {
		return err
	}

	for _, c := range cols {
		c.FlushChanges()
	}
	db.emitter.Emit(EventFlushChanges, db.name)
	return nil
}

func (db *Database) selectCollections(names []string) ([]*collection.Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if len(names) == 0 {
		return append([]*collection.Collection(nil), db.ordered...), nil
	}
	cols := make([]*collection.Collection, 0, len(names))
	for _, name := range names {
		c, ok := db.byName[name]
		if !ok {
			return nil, &UnknownCollectionError{Name: name}
		}
		cols = append(cols, c)
	}
	return cols, nil
}

func (db *Database) anyDirty() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, c := range db.ordered {
		if c.Dirty() {
			return true
		}
	}
	return false
}
