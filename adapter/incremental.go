package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	manifestFile    = "manifest.json"
	imageFile       = "image"
	partitionExt    = ".part"
	saveParallelism = 4
)

// Incremental is a filesystem PartitionStore. Each database becomes a
// directory holding a manifest plus one file per collection, so an autosave
// only rewrites the collections that changed since the last save.
type Incremental struct {
	root string
}

// NewIncremental creates the root directory if needed and returns a store
// rooted there.
func NewIncremental(root string) (*Incremental, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Incremental{root: root}, nil
}

// Save stores the whole image as one file, replacing any previously written
// partitioned state for this name.
func (i *Incremental) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := i.dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFileAtomic(dir, filepath.Join(dir, imageFile), data); err != nil {
		return err
	}
	// A monolithic image supersedes the manifest; drop it so a later
	// partitioned load cannot resurrect stale partitions.
	if err := os.Remove(filepath.Join(dir, manifestFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Load reads an image previously stored with Save. Partitioned state is read
// through LoadPartitioned.
func (i *Incremental) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(i.dir(name), imageFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

type incrementalManifest struct {
	Payload    json.RawMessage `json:"payload"`
	Partitions []string        `json:"partitions"`
}

// SavePartitioned writes the changed partitions in parallel, then commits by
// atomically replacing the manifest. Partitions absent from parts but listed
// in the previous manifest are carried over untouched.
func (i *Incremental) SavePartitioned(ctx context.Context, name string, manifest []byte, parts []Partition) error {
	dir := i.dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	prev, err := i.readManifest(dir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	names := map[string]struct{}{}
	if prev != nil {
		for _, n := range prev.Partitions {
			names[n] = struct{}{}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(saveParallelism)
	for _, p := range parts {
		names[p.Name] = struct{}{}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return writeFileAtomic(dir, filepath.Join(dir, encodePartName(p.Name)+partitionExt), p.Data)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	all := make([]string, 0, len(names))
	for n := range names {
		all = append(all, n)
	}
	sort.Strings(all)

	m := incrementalManifest{Payload: manifest, Partitions: all}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(dir, filepath.Join(dir, manifestFile), raw); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(dir, imageFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LoadPartitioned reads the manifest and every partition it names.
func (i *Incremental) LoadPartitioned(ctx context.Context, name string) ([]byte, []Partition, error) {
	dir := i.dir(name)
	m, err := i.readManifest(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, nil, err
	}

	parts := make([]Partition, len(m.Partitions))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(saveParallelism)
	for idx, pn := range m.Partitions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(dir, encodePartName(pn)+partitionExt))
			if err != nil {
				return fmt.Errorf("partition %q: %w", pn, err)
			}
			parts[idx] = Partition{Name: pn, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return m.Payload, parts, nil
}

// Delete removes the whole database directory.
func (i *Incremental) Delete(ctx context.Context, name string) error {
	return os.RemoveAll(i.dir(name))
}

func (i *Incremental) dir(name string) string {
	return filepath.Join(i.root, encodePartName(name))
}

func (i *Incremental) readManifest(dir string) (*incrementalManifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	var m incrementalManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &m, nil
}

// encodePartName keeps collection and database names from escaping the
// store's directory layout.
func encodePartName(name string) string {
	r := strings.NewReplacer("/", "%2F", "\\", "%5C", "..", "%2E%2E")
	return r.Replace(name)
}
