package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hinyari/amedas-ranking-service/internal/models"
)

// FileStore keeps every record in one JSON document mapping key to record.
// Writers in this process are serialized and the document is replaced by
// rename, so readers never see a partial file. Concurrent writers in other
// processes can still overwrite each other's updates.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the document (as {}) and its directory when missing.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if err := s.ensure(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) ensure() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %v", ErrCacheUnavailable, s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: create cache dir: %v", ErrCacheUnavailable, err)
	}
	return s.write(map[string]models.CacheRecord{})
}

// Get implements Store.Get by loading the whole document.
func (s *FileStore) Get(ctx context.Context, key string) (models.CacheRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CacheRecord{}, false, err
	}
	doc, err := s.read()
	if err != nil {
		return models.CacheRecord{}, false, err
	}
	rec, ok := doc[key]
	return rec, ok, nil
}

// Set implements Store.Set with a read-modify-write of the whole document.
func (s *FileStore) Set(ctx context.Context, key string, value models.CacheRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc[key] = value
	return s.write(doc)
}

// read returns an empty document when the file does not exist.
func (s *FileStore) read() (map[string]models.CacheRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]models.CacheRecord{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrCacheUnavailable, s.path, err)
	}
	doc := map[string]models.CacheRecord{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrCacheUnavailable, s.path, err)
	}
	return doc, nil
}

func (s *FileStore) write(doc map[string]models.CacheRecord) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode document: %v", ErrCacheUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrCacheUnavailable, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp file: %v", ErrCacheUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %v", ErrCacheUnavailable, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %v", ErrCacheUnavailable, s.path, err)
	}
	return nil
}

// Ping reports whether the document is readable.
func (s *FileStore) Ping(ctx context.Context) error {
	_, err := s.read()
	return err
}
