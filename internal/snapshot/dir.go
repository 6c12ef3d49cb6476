package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cascade/internal/changeset"
	"github.com/roach88/cascade/internal/store"
	"github.com/roach88/cascade/internal/value"
)

const (
	// DataFile holds the latest committed dataset.
	DataFile = "data.yml"
	// VersionsDir holds one file per superseded version.
	VersionsDir = "versions"
)

// Dir is a store.Backend that keeps snapshots as YAML files:
//
//	<root>/data.yml            latest version
//	<root>/versions/000001.yml   version 1
//	<root>/versions/000002.yml   version 2 ...
//
// The latest version lives only in data.yml; when a new version is appended
// the current data.yml moves into versions/ first. A crash between the move
// and the write of the new data.yml leaves the previous head intact in
// versions/.
type Dir struct {
	root string

	mu sync.RWMutex
}

var _ store.Backend = (*Dir)(nil)

// Open prepares root for use, creating it when missing.
func Open(root string) (*Dir, error) {
	if err := os.MkdirAll(filepath.Join(root, VersionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("open snapshot dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory path.
func (d *Dir) Root() string {
	return d.root
}

// VersionPath returns the file name used for superseded version n.
func (d *Dir) VersionPath(n int) string {
	return filepath.Join(d.root, VersionsDir, fmt.Sprintf("%06d.yml", n))
}

// DataPath returns the path of data.yml.
func (d *Dir) DataPath() string {
	return filepath.Join(d.root, DataFile)
}

// Head implements store.Backend.
func (d *Dir) Head(context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.head()
}

func (d *Dir) head() (int, error) {
	versions, err := d.archived()
	if err != nil {
		return 0, err
	}
	n := 0
	if len(versions) > 0 {
		n = versions[len(versions)-1]
	}
	if _, err := os.Stat(d.DataPath()); err == nil {
		n++
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("stat %s: %w", DataFile, err)
	}
	return n, nil
}

// archived returns the sorted version numbers present in versions/.
func (d *Dir) archived() ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, VersionsDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list versions: %w", err)
	}
	var out []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".yml"))
		if err != nil || n < 1 {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	for i, n := range out {
		if n != i+1 {
			return nil, fmt.Errorf("versions directory has a gap: expected %06d.yml, found %06d.yml", i+1, n)
		}
	}
	return out, nil
}

// Read implements store.Backend.
func (d *Dir) Read(_ context.Context, n int) (changeset.Dataset, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	head, err := d.head()
	if err != nil {
		return nil, err
	}
	if n < 1 || n > head {
		return nil, fmt.Errorf("%w: %d", store.ErrVersionNotFound, n)
	}
	path := d.VersionPath(n)
	if n == head {
		if _, err := os.Stat(d.DataPath()); err == nil {
			path = d.DataPath()
		}
	}
	return ReadFile(path)
}

// Append implements store.Backend.
func (d *Dir) Append(_ context.Context, n int, data changeset.Dataset) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	head, err := d.head()
	if err != nil {
		return err
	}
	if n != head+1 {
		return fmt.Errorf("append version %d: head is %d", n, head)
	}

	if _, err := os.Stat(d.DataPath()); err == nil {
		if err := os.Rename(d.DataPath(), d.VersionPath(head)); err != nil {
			return fmt.Errorf("archive version %d: %w", head, err)
		}
	}
	return WriteFile(d.DataPath(), data)
}

// ReadFile decodes one snapshot file.
func ReadFile(path string) (changeset.Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Decode(raw)
}

// Decode parses snapshot YAML. An empty document is an empty dataset.
func Decode(raw []byte) (changeset.Dataset, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if node.Kind == 0 {
		return changeset.Dataset{}, nil
	}
	v, err := value.FromNode(&node)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	switch obj := v.(type) {
	case value.Null:
		return changeset.Dataset{}, nil
	case value.Object:
		return changeset.DatasetFromObject(obj)
	default:
		return nil, fmt.Errorf("decode snapshot: expected mapping of record types, got %T", v)
	}
}

// Encode renders a dataset as YAML with sorted keys.
func Encode(data changeset.Dataset) ([]byte, error) {
	out, err := yaml.Marshal(data.Object())
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return out, nil
}

// WriteFile writes data to path through a temporary file and rename so
// readers never observe a partial snapshot.
func WriteFile(path string, data changeset.Dataset) error {
	raw, err := Encode(data)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
