package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidName is returned for partition names that cannot be stored
var ErrInvalidName = errors.New("invalid cache name")

const partitionMetaFile = "_partition.json"

type partitionMeta struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// FileStorage implements Storage using one directory per partition and one
// JSON document per entry
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

// NewFileStorage creates a file-backed storage rooted at dir.
// If dir is empty, uses a default directory in the user's home
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		usr, err := user.Current()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(usr.HomeDir, ".buku_doa_cache")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	return &FileStorage{dir: dir}, nil
}

// Dir returns the root directory of the storage
func (fs *FileStorage) Dir() string {
	return fs.dir
}

func (fs *FileStorage) partitionDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(fs.dir, url.PathEscape(name)), nil
}

// Open implements Storage
func (fs *FileStorage) Open(ctx context.Context, name string) (Partition, error) {
	dir, err := fs.partitionDir(name)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	metaPath := filepath.Join(dir, partitionMetaFile)
	if _, err := os.Stat(metaPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
		data, err := json.Marshal(partitionMeta{Name: name, CreatedAt: time.Now().UTC()})
		if err != nil {
			return nil, err
		}
		if err := writeFileAtomic(metaPath, data); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return &filePartition{name: name, dir: dir}, nil
}

// Has implements Storage
func (fs *FileStorage) Has(ctx context.Context, name string) (bool, error) {
	dir, err := fs.partitionDir(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, partitionMetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Delete implements Storage
func (fs *FileStorage) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := fs.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	dir, _ := fs.partitionDir(name)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

// Keys implements Storage
func (fs *FileStorage) Keys(ctx context.Context) ([]string, error) {
	dirs, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, err
	}

	metas := make([]partitionMeta, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.dir, d.Name(), partitionMetaFile))
		if err != nil {
			// Half-deleted or foreign directory
			continue
		}
		var meta partitionMeta
		if err := json.Unmarshal(data, &meta); err != nil || meta.Name == "" {
			continue
		}
		metas = append(metas, meta)
	}

	sort.SliceStable(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].Name < metas[j].Name
		}
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})

	names := make([]string, len(metas))
	for i, m := range metas {
		names[i] = m.Name
	}
	return names, nil
}

// Match implements Storage
func (fs *FileStorage) Match(ctx context.Context, key string) (*Entry, error) {
	names, err := fs.Keys(ctx)
	if err != nil {
		return nil, err
	}
	partitions := make([]Partition, 0, len(names))
	for _, name := range names {
		dir, err := fs.partitionDir(name)
		if err != nil {
			continue
		}
		partitions = append(partitions, &filePartition{name: name, dir: dir})
	}
	return matchAll(ctx, partitions, key)
}

type filePartition struct {
	name string
	dir  string
}

func (p *filePartition) Name() string { return p.name }

// path generates the full filesystem path for a cache key
func (p *filePartition) path(key string) string {
	return filepath.Join(p.dir, fileNameFor(key))
}

func (p *filePartition) Match(ctx context.Context, key string) (*Entry, error) {
	data, err := os.ReadFile(p.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCacheNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &entry, nil
}

func (p *filePartition) Put(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return ErrNotCacheable
	}
	stored := *entry
	stored.URL = key

	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return err
	}

	if err := writeFileAtomic(p.path(key), data); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("partition %s was deleted: %w", p.name, err)
		}
		return err
	}
	return nil
}

func (p *filePartition) Delete(ctx context.Context, key string) (bool, error) {
	err := os.Remove(p.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (p *filePartition) Keys(ctx context.Context) ([]string, error) {
	files, err := os.ReadDir(p.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || name == partitionMetaFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(p.dir, name))
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		keys = append(keys, entry.URL)
	}
	sort.Strings(keys)
	return keys, nil
}

// writeFileAtomic writes to a temporary file first, then renames it over path
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
