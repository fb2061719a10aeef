package storage

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"clothscan/pkg/config"
	"clothscan/pkg/record"
)

// BucketWidth is the span of one time-index bucket
const BucketWidth = 3 * time.Second

// Store is a keyed collection of records grouped by namespace
type Store interface {
	// Load returns the record or nil when it does not exist
	Load(ctx context.Context, ns, id string) (*record.Record, error)
	// Scan yields every record of ns. Each call re-reads the backend.
	Scan(ctx context.Context, ns string) iter.Seq2[*record.Record, error]
	Save(ctx context.Context, ns string, r *record.Record) error
	Delete(ctx context.Context, ns, id string) error
	// FindByGroup returns the record carrying gid, or nil. When several do,
	// the smallest id wins.
	FindByGroup(ctx context.Context, ns, gid string) (*record.Record, error)
	// FindNear returns records whose timestamp is within tol of t, ordered by id
	FindNear(ctx context.Context, ns string, t time.Time, tol time.Duration) ([]*record.Record, error)
	Namespaces(ctx context.Context) ([]string, error)
	Close() error
}

// Open returns the backend selected in cfg
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.Root)
	case config.BackendBadger:
		return OpenBadger(filepath.Join(cfg.Root, ".badger"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ValidateNamespace rejects namespaces that would escape the store root
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("empty namespace")
	}
	if strings.ContainsRune(ns, '\\') || strings.HasPrefix(ns, "/") {
		return fmt.Errorf("invalid namespace %q", ns)
	}
	for _, seg := range strings.Split(ns, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.HasPrefix(seg, ".") || seg == MediaDir {
			return fmt.Errorf("invalid namespace %q", ns)
		}
	}
	return nil
}

// ValidateID rejects ids that cannot name a single document
func ValidateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid record id %q", id)
	}
	return nil
}

func bucketOf(t time.Time) int64 {
	return t.Unix() / int64(BucketWidth/time.Second)
}

// bucketRange lists the buckets that can hold a timestamp within tol of t
func bucketRange(t time.Time, tol time.Duration) []int64 {
	lo, hi := bucketOf(t.Add(-tol)), bucketOf(t.Add(tol))
	out := make([]int64, 0, hi-lo+1)
	for b := lo; b <= hi; b++ {
		out = append(out, b)
	}
	return out
}

func within(a, b time.Time, tol time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func sortByID(recs []*record.Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}
