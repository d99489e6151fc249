// Package memstore is an in-memory store.Store used by tests and local runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/runhub-backend/internal/store"
)

// Store holds documents in a path-keyed map guarded by one mutex. Commit
// applies all operations under the lock, giving the same all-or-nothing
// semantics as the durable implementation.
type Store struct {
	mu   sync.RWMutex
	docs map[string]map[string]interface{}
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{docs: make(map[string]map[string]interface{})}
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, path string) (*store.Doc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, store.ErrNotFound)
	}
	return &store.Doc{ID: store.DocID(path), Path: path, Data: store.CloneData(data)}, nil
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Doc, error) {
	s.mu.RLock()
	matched := s.match(q)
	s.mu.RUnlock()

	sortDocs(matched, q)

	if q.StartAfter != "" {
		i := 0
		for i < len(matched) && matched[i].ID <= q.StartAfter {
			i++
		}
		matched = matched[i:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Count implements store.Store.
func (s *Store) Count(ctx context.Context, q store.Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.match(q))), nil
}

func (s *Store) match(q store.Query) []store.Doc {
	var out []store.Doc
	for path, data := range s.docs {
		if q.Group {
			if store.CollectionName(store.ParentCollection(path)) != q.Collection {
				continue
			}
		} else {
			if store.ParentCollection(path) != q.Collection {
				continue
			}
		}
		doc := store.Doc{ID: store.DocID(path), Path: path, Data: store.CloneData(data)}
		if !store.MatchFilters(&doc, q.Filters) {
			continue
		}
		// Ordering by a field excludes documents missing that field.
		if q.OrderBy != "" && store.GetField(doc.Data, q.OrderBy) == nil {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func sortDocs(docs []store.Doc, q store.Query) {
	sort.Slice(docs, func(i, j int) bool {
		var less bool
		if q.OrderBy == "" {
			less = docs[i].ID < docs[j].ID
		} else {
			cmp, ok := store.Compare(
				store.GetField(docs[i].Data, q.OrderBy),
				store.GetField(docs[j].Data, q.OrderBy),
			)
			if !ok || cmp == 0 {
				less = docs[i].ID < docs[j].ID
				if q.Desc {
					return !less
				}
				return less
			}
			less = cmp < 0
		}
		if q.Desc {
			return !less
		}
		return less
	})
}

// Commit implements store.Store.
func (s *Store) Commit(ctx context.Context, ops []store.Op) error {
	if err := store.ValidateOps(ops); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check every precondition before applying anything.
	for _, op := range ops {
		var cur *store.Doc
		if data, ok := s.docs[op.Path]; ok {
			cur = &store.Doc{ID: store.DocID(op.Path), Path: op.Path, Data: data}
		}
		if !store.CheckPrecond(cur, op.Precond) {
			return fmt.Errorf("%s: %w", op.Path, store.ErrPrecondition)
		}
		if op.Kind == store.OpUpdate && cur == nil {
			return fmt.Errorf("update %s: %w", op.Path, store.ErrNotFound)
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case store.OpSet:
			s.docs[op.Path] = store.CloneData(op.Data)
		case store.OpUpdate:
			data := s.docs[op.Path]
			if err := store.ApplyUpdate(data, op.Data); err != nil {
				return err
			}
		case store.OpDelete:
			delete(s.docs, op.Path)
		}
	}
	return nil
}

// Seed writes documents directly, bypassing commit validation. Test helper.
func (s *Store) Seed(path string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = store.CloneData(data)
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// PathsUnder lists stored document paths with the given prefix. Test helper.
func (s *Store) PathsUnder(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for path := range s.docs {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}
