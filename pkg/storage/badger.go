package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	errs "clothscan/pkg/errors"
	"clothscan/pkg/record"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage
const (
	recordKeyPrefix = "rec/"
	groupKeyPrefix  = "grp/"
	timeKeyPrefix   = "ts/"
)

// BadgerStore keeps records in an embedded badger database
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open database
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadger opens or creates a database in dir
func OpenBadger(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return NewBadgerStore(db), nil
}

func recordKey(ns, id string) []byte {
	return []byte(recordKeyPrefix + ns + "/" + id)
}

func groupKey(ns, gid string) []byte {
	return []byte(groupKeyPrefix + ns + "/" + url.PathEscape(gid))
}

func bucketPrefix(ns string, bucket int64) string {
	return timeKeyPrefix + ns + "/" + strconv.FormatInt(bucket, 10) + "/"
}

func timeKey(ns string, bucket int64, id string) []byte {
	return []byte(bucketPrefix(ns, bucket) + id)
}

func getRecord(txn *badger.Txn, ns, id string) (*record.Record, error) {
	item, err := txn.Get(recordKey(ns, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r *record.Record
	err = item.Value(func(val []byte) error {
		var derr error
		r, derr = record.Decode(val)
		return derr
	})
	return r, err
}

func (s *BadgerStore) Load(ctx context.Context, ns, id string) (*record.Record, error) {
	if err := checkKey(ns, id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r *record.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = getRecord(txn, ns, id)
		return err
	})
	if err != nil {
		return nil, errs.StoreIO("load "+id, err)
	}
	return r, nil
}

// idsWithPrefix returns the ids directly under prefix; deeper keys belong to nested namespaces
func idsWithPrefix(txn *badger.Txn, prefix string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		rest := strings.TrimPrefix(string(it.Item().Key()), prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		ids = append(ids, rest)
	}
	return ids
}

func (s *BadgerStore) Scan(ctx context.Context, ns string) iter.Seq2[*record.Record, error] {
	return func(yield func(*record.Record, error) bool) {
		if err := ValidateNamespace(ns); err != nil {
			yield(nil, err)
			return
		}
		var ids []string
		err := s.db.View(func(txn *badger.Txn) error {
			ids = idsWithPrefix(txn, recordKeyPrefix+ns+"/")
			return nil
		})
		if err != nil {
			yield(nil, errs.StoreIO("list "+ns, err))
			return
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			r, err := s.Load(ctx, ns, id)
			if r == nil && err == nil {
				continue
			}
			if !yield(r, err) {
				return
			}
		}
	}
}

func (s *BadgerStore) Save(ctx context.Context, ns string, r *record.Record) error {
	if err := checkKey(ns, r.ID); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return errs.StoreIO("save "+r.ID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := record.Encode(r)
	if err != nil {
		return errs.StoreIO("encode "+r.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		prev, err := getRecord(txn, ns, r.ID)
		if err != nil {
			return fmt.Errorf("get previous: %w", err)
		}
		if prev != nil {
			if err := dropIndex(txn, ns, prev); err != nil {
				return err
			}
		}

		if err := txn.Set(recordKey(ns, r.ID), data); err != nil {
			return fmt.Errorf("set record: %w", err)
		}
		if r.GroupID != "" {
			owner, err := groupOwner(txn, ns, r.GroupID)
			if err != nil {
				return err
			}
			if owner == "" || r.ID < owner {
				if err := txn.Set(groupKey(ns, r.GroupID), []byte(r.ID)); err != nil {
					return fmt.Errorf("set group mapping: %w", err)
				}
			}
		}
		if !r.Timestamp.IsZero() {
			if err := txn.Set(timeKey(ns, bucketOf(r.Timestamp), r.ID), nil); err != nil {
				return fmt.Errorf("set time mapping: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return errs.StoreIO("save "+r.ID, err)
	}
	return nil
}

func groupOwner(txn *badger.Txn, ns, gid string) (string, error) {
	item, err := txn.Get(groupKey(ns, gid))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get group mapping: %w", err)
	}
	owner, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(owner), nil
}

// nextGroupOwner returns the smallest id other than exclude whose record
// carries gid, or "" when none is left
func nextGroupOwner(txn *badger.Txn, ns, gid, exclude string) (string, error) {
	next := ""
	for _, id := range idsWithPrefix(txn, recordKeyPrefix+ns+"/") {
		if id == exclude || (next != "" && id >= next) {
			continue
		}
		r, err := getRecord(txn, ns, id)
		if err != nil {
			return "", err
		}
		if r != nil && r.GroupID == gid {
			next = id
		}
	}
	return next, nil
}

// dropIndex removes the secondary keys pointing at prev. A group mapping
// owned by prev passes to the next record of the same group.
func dropIndex(txn *badger.Txn, ns string, prev *record.Record) error {
	if prev.GroupID != "" {
		owner, err := groupOwner(txn, ns, prev.GroupID)
		if err != nil {
			return err
		}
		if owner == prev.ID {
			next, err := nextGroupOwner(txn, ns, prev.GroupID, prev.ID)
			if err != nil {
				return err
			}
			if next == "" {
				err = txn.Delete(groupKey(ns, prev.GroupID))
			} else {
				err = txn.Set(groupKey(ns, prev.GroupID), []byte(next))
			}
			if err != nil {
				return fmt.Errorf("update group mapping: %w", err)
			}
		}
	}
	if !prev.Timestamp.IsZero() {
		if err := txn.Delete(timeKey(ns, bucketOf(prev.Timestamp), prev.ID)); err != nil {
			return fmt.Errorf("delete time mapping: %w", err)
		}
	}
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, ns, id string) error {
	if err := checkKey(ns, id); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		prev, err := getRecord(txn, ns, id)
		if err != nil || prev == nil {
			return err
		}
		if err := dropIndex(txn, ns, prev); err != nil {
			return err
		}
		return txn.Delete(recordKey(ns, id))
	})
	if err != nil {
		return errs.StoreIO("delete "+id, err)
	}
	return nil
}

func (s *BadgerStore) FindByGroup(ctx context.Context, ns, gid string) (*record.Record, error) {
	if gid == "" {
		return nil, nil
	}
	if err := ValidateNamespace(ns); err != nil {
		return nil, err
	}
	var r *record.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(groupKey(ns, gid))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		r, err = getRecord(txn, ns, string(id))
		return err
	})
	if err != nil {
		return nil, errs.StoreIO("find group "+gid, err)
	}
	return r, nil
}

func (s *BadgerStore) FindNear(ctx context.Context, ns string, t time.Time, tol time.Duration) ([]*record.Record, error) {
	if t.IsZero() {
		return nil, nil
	}
	if err := ValidateNamespace(ns); err != nil {
		return nil, err
	}
	var out []*record.Record
	err := s.db.View(func(txn *badger.Txn) error {
		for _, b := range bucketRange(t, tol) {
			for _, id := range idsWithPrefix(txn, bucketPrefix(ns, b)) {
				r, err := getRecord(txn, ns, id)
				if err != nil {
					return err
				}
				if r != nil && !r.Timestamp.IsZero() && within(r.Timestamp, t, tol) {
					out = append(out, r)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.StoreIO("find near "+t.Format(time.RFC3339), err)
	}
	sortByID(out)
	return out, nil
}

func (s *BadgerStore) Namespaces(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(recordKeyPrefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), recordKeyPrefix)
			if i := strings.LastIndex(key, "/"); i > 0 {
				seen[key[:i]] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.StoreIO("list namespaces", err)
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
