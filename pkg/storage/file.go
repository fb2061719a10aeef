package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	errs "clothscan/pkg/errors"
	"clothscan/pkg/record"
)

const (
	// MediaDir holds downloaded media inside a namespace directory
	MediaDir = "media"

	recordExt = ".json"
)

// FileStore keeps one JSON document per record under root
type FileStore struct {
	root    string
	mu      sync.Mutex
	indexes map[string]*nsIndex
}

type nsIndex struct {
	groups  map[string]string
	buckets map[int64]map[string]struct{}
	entries map[string]indexEntry
}

type indexEntry struct {
	groupID string
	bucket  int64
	timed   bool
}

// NewFileStore creates the root directory if needed
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FileStore{root: root, indexes: make(map[string]*nsIndex)}, nil
}

// Root returns the store root directory
func (s *FileStore) Root() string {
	return s.root
}

// NamespaceDir returns the directory holding ns
func (s *FileStore) NamespaceDir(ns string) string {
	return filepath.Join(s.root, filepath.FromSlash(ns))
}

func (s *FileStore) path(ns, id string) string {
	return filepath.Join(s.NamespaceDir(ns), id+recordExt)
}

func (s *FileStore) Load(ctx context.Context, ns, id string) (*record.Record, error) {
	if err := checkKey(ns, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read(s.path(ns, id))
}

func (s *FileStore) read(path string) (*record.Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreIO("read "+path, err)
	}
	r, err := record.Decode(data)
	if err != nil {
		return nil, errs.StoreIO("decode "+path, err)
	}
	return r, nil
}

func (s *FileStore) Scan(ctx context.Context, ns string) iter.Seq2[*record.Record, error] {
	return func(yield func(*record.Record, error) bool) {
		if err := ValidateNamespace(ns); err != nil {
			yield(nil, err)
			return
		}
		names, err := s.listIDs(ns)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, id := range names {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			r, err := s.read(s.path(ns, id))
			if r == nil && err == nil {
				continue // removed since listing
			}
			if !yield(r, err) {
				return
			}
		}
	}
}

// listIDs returns the record ids present in ns in directory order
func (s *FileStore) listIDs(ns string) ([]string, error) {
	entries, err := os.ReadDir(s.NamespaceDir(ns))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.StoreIO("list "+ns, err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != recordExt || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordExt))
	}
	return ids, nil
}

func (s *FileStore) Save(ctx context.Context, ns string, r *record.Record) error {
	if err := checkKey(ns, r.ID); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return errs.StoreIO("save "+r.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := s.index(ns)
	if err != nil {
		return err
	}

	data, err := record.Encode(r)
	if err != nil {
		return errs.StoreIO("encode "+r.ID, err)
	}
	if err := os.MkdirAll(s.NamespaceDir(ns), 0755); err != nil {
		return errs.StoreIO("create namespace "+ns, err)
	}
	if err := WriteFileAtomic(s.path(ns, r.ID), bytes.NewReader(data)); err != nil {
		return errs.StoreIO("save "+r.ID, err)
	}

	s.mu.Lock()
	idx.put(r)
	s.mu.Unlock()
	return nil
}

func (s *FileStore) Delete(ctx context.Context, ns, id string) error {
	if err := checkKey(ns, id); err != nil {
		return err
	}
	idx, err := s.index(ns)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(ns, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.StoreIO("delete "+id, err)
	}
	s.mu.Lock()
	idx.remove(id)
	s.mu.Unlock()
	return nil
}

func (s *FileStore) FindByGroup(ctx context.Context, ns, gid string) (*record.Record, error) {
	if gid == "" {
		return nil, nil
	}
	idx, err := s.index(ns)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	id, ok := idx.groups[gid]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return s.Load(ctx, ns, id)
}

func (s *FileStore) FindNear(ctx context.Context, ns string, t time.Time, tol time.Duration) ([]*record.Record, error) {
	if t.IsZero() {
		return nil, nil
	}
	idx, err := s.index(ns)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	var ids []string
	for _, b := range bucketRange(t, tol) {
		for id := range idx.buckets[b] {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(ids)

	var out []*record.Record
	for _, id := range ids {
		r, err := s.Load(ctx, ns, id)
		if err != nil {
			return nil, err
		}
		if r != nil && !r.Timestamp.IsZero() && within(r.Timestamp, t, tol) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Namespaces lists every directory under root that holds at least one record
func (s *FileStore) Namespaces(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.root && (strings.HasPrefix(d.Name(), ".") || d.Name() == MediaDir) {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil || rel == "." {
			return nil
		}
		ns := filepath.ToSlash(rel)
		ids, err := s.listIDs(ns)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			out = append(out, ns)
		}
		return nil
	})
	if err != nil {
		return nil, errs.StoreIO("list namespaces", err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}

// index returns the namespace index, scanning existing documents on first use
func (s *FileStore) index(ns string) (*nsIndex, error) {
	if err := ValidateNamespace(ns); err != nil {
		return nil, err
	}
	s.mu.Lock()
	idx, ok := s.indexes[ns]
	s.mu.Unlock()
	if ok {
		return idx, nil
	}

	idx = &nsIndex{
		groups:  make(map[string]string),
		buckets: make(map[int64]map[string]struct{}),
		entries: make(map[string]indexEntry),
	}
	ids, err := s.listIDs(ns)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r, err := s.read(s.path(ns, id))
		if err != nil || r == nil {
			continue // unreadable documents are reported by Scan
		}
		idx.put(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.indexes[ns]; ok {
		return existing, nil
	}
	s.indexes[ns] = idx
	return idx, nil
}

func (x *nsIndex) put(r *record.Record) {
	x.remove(r.ID)
	e := indexEntry{groupID: r.GroupID}
	if r.GroupID != "" {
		if owner, taken := x.groups[r.GroupID]; !taken || r.ID < owner {
			x.groups[r.GroupID] = r.ID
		}
	}
	if !r.Timestamp.IsZero() {
		e.bucket = bucketOf(r.Timestamp)
		e.timed = true
		if x.buckets[e.bucket] == nil {
			x.buckets[e.bucket] = make(map[string]struct{})
		}
		x.buckets[e.bucket][r.ID] = struct{}{}
	}
	x.entries[r.ID] = e
}

func (x *nsIndex) remove(id string) {
	e, ok := x.entries[id]
	if !ok {
		return
	}
	delete(x.entries, id)
	if e.groupID != "" && x.groups[e.groupID] == id {
		delete(x.groups, e.groupID)
		for other, oe := range x.entries {
			if oe.groupID != e.groupID {
				continue
			}
			if owner, taken := x.groups[e.groupID]; !taken || other < owner {
				x.groups[e.groupID] = other
			}
		}
	}
	if e.timed {
		delete(x.buckets[e.bucket], id)
		if len(x.buckets[e.bucket]) == 0 {
			delete(x.buckets, e.bucket)
		}
	}
}

func checkKey(ns, id string) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	return ValidateID(id)
}

// WriteFileAtomic writes r to a temporary file next to path and renames it into place
func WriteFileAtomic(path string, r io.Reader) error {
	out, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempFile := out.Name()
	if err := out.Chmod(0644); err != nil {
		out.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to set file mode: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
