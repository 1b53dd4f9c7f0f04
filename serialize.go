package docgo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/docgo/adapter"
	"github.com/hupe1980/docgo/collection"
	"github.com/hupe1980/docgo/document"
)

const imageFormatVersion = 1

// databaseImage is the persisted form of a Database.
type databaseImage struct {
	Name          string                 `json:"name"`
	InstanceID    string                 `json:"instanceId"`
	FormatVersion int                    `json:"formatVersion"`
	Collections   []*collection.Snapshot `json:"collections"`
}

// destructuredSentinel opens a collection section in the destructured
// layout. Encoded JSON never contains a raw newline, so the sequence cannot
// occur inside a document line.
var destructuredSentinel = []byte("\n$<")

// Save serializes the database and writes it through the adapter. When a
// save throttle is configured and the window has not elapsed, Save returns
// nil without writing; the dirty state carries over to the next call.
func (db *Database) Save(ctx context.Context) error {
	return db.save(ctx, true)
}

func (db *Database) save(ctx context.Context, throttled bool) error {
	if db.adapter == nil {
		return ErrNoAdapter
	}
	if throttled && db.throttle != nil && !db.throttle.Allow() {
		return nil
	}

	db.mu.Lock()
	// Close performs its final, unthrottled save with closed already set.
	if db.closed && throttled {
		db.mu.Unlock()
		return ErrClosed
	}
	cols := append([]*collection.Collection(nil), db.ordered...)
	image := &databaseImage{
		Name:          db.name,
		InstanceID:    db.instanceID,
		FormatVersion: imageFormatVersion,
	}
	db.mu.Unlock()

	snaps := make([]*collection.Snapshot, len(cols))
	dirty := make([]bool, len(cols))
	for i, c := range cols {
		s := c.TakeSnapshot()
		snaps[i] = &s
		dirty[i] = c.Dirty()
	}
	image.Collections = snaps

	start := time.Now()

	var (
		size int
		err  error
	)
	if ps, ok := db.adapter.(adapter.PartitionStore); ok {
		size, err = db.savePartitioned(ctx, ps, image, dirty)
	} else {
		var data []byte
		if data, err = db.encodeImage(image); err == nil {
			size = len(data)
			err = db.adapter.Save(ctx, db.name, data)
		}
	}

	if err == nil {
		for _, c := range cols {
			c.MarkClean()
		}
	}
	db.logger.LogSave(ctx, db.name, size, time.Since(start), err)

	return err
}

// savePartitioned writes one partition per dirty collection plus a manifest
// describing them all. Clean collections keep their previously written
// partitions.
func (db *Database) savePartitioned(ctx context.Context, ps adapter.PartitionStore, image *databaseImage, dirty []bool) (int, error) {
	manifest, err := db.codec.Marshal(strippedImage(image))
	if err != nil {
		return 0, err
	}

	var parts []adapter.Partition
	for i, snap := range image.Collections {
		if !dirty[i] {
			continue
		}
		data, err := db.codec.Marshal(snap)
		if err != nil {
			return 0, fmt.Errorf("collection %q: %w", snap.Name, err)
		}
		parts = append(parts, adapter.Partition{Name: snap.Name, Data: data})
	}

	size := len(manifest)
	for _, p := range parts {
		size += len(p.Data)
	}
	return size, ps.SavePartitioned(ctx, db.name, manifest, parts)
}

func (db *Database) encodeImage(image *databaseImage) ([]byte, error) {
	switch db.format {
	case FormatJSON:
		return db.codec.Marshal(image)
	case FormatPretty:
		data, err := db.codec.Marshal(image)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatDestructured:
		return db.encodeDestructured(image)
	default:
		return nil, fmt.Errorf("unknown serialization format %d", db.format)
	}
}

// encodeDestructured writes the Data-stripped image as the first line, then
// per collection a "$<" sentinel line followed by one document per line.
// Collection sections are encoded in parallel.
func (db *Database) encodeDestructured(image *databaseImage) ([]byte, error) {
	header, err := db.codec.Marshal(strippedImage(image))
	if err != nil {
		return nil, err
	}

	sections := make([][]byte, len(image.Collections))
	g, _ := errgroup.WithContext(context.Background())
	for i, snap := range image.Collections {
		g.Go(func() error {
			var buf bytes.Buffer
			for _, doc := range snap.Data {
				line, err := db.codec.Marshal(doc)
				if err != nil {
					return fmt.Errorf("collection %q: %w", snap.Name, err)
				}
				buf.WriteByte('\n')
				buf.Write(line)
			}
			sections[i] = buf.Bytes()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(header)
	for _, section := range sections {
		buf.WriteString("\n$<")
		buf.Write(section)
	}
	return buf.Bytes(), nil
}

// strippedImage copies the image with document arrays removed, leaving
// collection metadata only.
func strippedImage(image *databaseImage) *databaseImage {
	out := *image
	out.Collections = make([]*collection.Snapshot, len(image.Collections))
	for i, snap := range image.Collections {
		s := *snap
		s.Data = nil
		out.Collections[i] = &s
	}
	return &out
}

// Load reads the image for this database's name from the adapter and
// replaces the in-memory collections with the persisted ones. The persisted
// instance id is adopted.
func (db *Database) Load(ctx context.Context) error {
	if db.adapter == nil {
		return ErrNoAdapter
	}

	var (
		image *databaseImage
		err   error
	)
	if ps, ok := db.adapter.(adapter.PartitionStore); ok {
		image, err = db.loadPartitioned(ctx, ps)
	} else {
		var data []byte
		if data, err = db.adapter.Load(ctx, db.name); err == nil {
			image, err = db.decodeImage(data)
		}
	}
	if err != nil {
		err = translateError(err)
		db.logger.LogLoad(ctx, db.name, 0, err)
		return err
	}

	if image.FormatVersion > imageFormatVersion {
		err = &UnsupportedFormatError{Version: image.FormatVersion}
		db.logger.LogLoad(ctx, db.name, 0, err)
		return err
	}

	cols := make([]*collection.Collection, len(image.Collections))
	for i, snap := range image.Collections {
		c, err := collection.FromSnapshot(*snap)
		if err != nil {
			for _, built := range cols[:i] {
				built.Close()
			}
			err = fmt.Errorf("collection %q: %w", snap.Name, err)
			db.logger.LogLoad(ctx, db.name, 0, err)
			return err
		}
		cols[i] = c
	}

	db.mu.Lock()
	old := db.ordered
	db.ordered = cols
	db.byName = make(map[string]*collection.Collection, len(cols))
	for _, c := range cols {
		db.byName[c.Name()] = c
	}
	if image.InstanceID != "" {
		db.instanceID = image.InstanceID
	}
	db.mu.Unlock()

	for _, c := range old {
		c.Close()
	}

	db.logger.LogLoad(ctx, db.name, len(cols), nil)
	db.emitter.Emit(EventLoaded, db.name)

	return nil
}

func (db *Database) loadPartitioned(ctx context.Context, ps adapter.PartitionStore) (*databaseImage, error) {
	manifest, parts, err := ps.LoadPartitioned(ctx, db.name)
	if err != nil {
		return nil, err
	}

	var image databaseImage
	if err := db.codec.Unmarshal(manifest, &image); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	byName := make(map[string][]byte, len(parts))
	for _, p := range parts {
		byName[p.Name] = p.Data
	}
	for i, snap := range image.Collections {
		data, ok := byName[snap.Name]
		if !ok {
			return nil, fmt.Errorf("collection %q: partition missing", snap.Name)
		}
		var full collection.Snapshot
		if err := db.codec.Unmarshal(data, &full); err != nil {
			return nil, fmt.Errorf("collection %q: %w", snap.Name, err)
		}
		image.Collections[i] = &full
	}
	return &image, nil
}

// decodeImage detects the layout from the bytes; loads never depend on the
// format the database is configured to write.
func (db *Database) decodeImage(data []byte) (*databaseImage, error) {
	if bytes.Contains(data, destructuredSentinel) {
		return db.decodeDestructured(data)
	}

	var image databaseImage
	if err := db.codec.Unmarshal(data, &image); err != nil {
		return nil, err
	}
	return &image, nil
}

func (db *Database) decodeDestructured(data []byte) (*databaseImage, error) {
	lines := bytes.Split(data, []byte("\n"))

	var image databaseImage
	if err := db.codec.Unmarshal(lines[0], &image); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	var sections [][][]byte
	for _, line := range lines[1:] {
		if bytes.Equal(line, []byte("$<")) {
			sections = append(sections, nil)
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if len(sections) == 0 {
			return nil, fmt.Errorf("document line before first collection sentinel")
		}
		sections[len(sections)-1] = append(sections[len(sections)-1], line)
	}
	if len(sections) != len(image.Collections) {
		return nil, fmt.Errorf("image has %d collection sections, header names %d", len(sections), len(image.Collections))
	}

	g, _ := errgroup.WithContext(context.Background())
	for i, section := range sections {
		snap := image.Collections[i]
		g.Go(func() error {
			for _, line := range section {
				var doc document.D
				if err := db.codec.Unmarshal(line, &doc); err != nil {
					return fmt.Errorf("collection %q: %w", snap.Name, err)
				}
				snap.Data = append(snap.Data, doc)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &image, nil
}
