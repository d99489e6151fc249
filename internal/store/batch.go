package store

import (
	"context"
	"fmt"
)

// BatchWriter stages mutations and commits them in groups no larger than the
// store's per-commit ceiling. When the in-flight group reaches the ceiling it
// is committed before further operations are accepted; Flush commits the
// remainder. A failed group commit aborts that group only and surfaces the
// error to the caller.
type BatchWriter struct {
	st        Store
	ops       []Op
	committed int
}

// NewBatchWriter creates a batch writer over st.
func NewBatchWriter(st Store) *BatchWriter {
	return &BatchWriter{st: st, ops: make([]Op, 0, MaxBatchOps)}
}

// Set stages a full-replace write.
func (b *BatchWriter) Set(ctx context.Context, path string, data map[string]interface{}) error {
	return b.add(ctx, Set(path, data))
}

// Update stages a field merge.
func (b *BatchWriter) Update(ctx context.Context, path string, data map[string]interface{}) error {
	return b.add(ctx, Update(path, data))
}

// Delete stages a delete.
func (b *BatchWriter) Delete(ctx context.Context, path string) error {
	return b.add(ctx, Delete(path))
}

// Add stages an arbitrary op.
func (b *BatchWriter) Add(ctx context.Context, op Op) error {
	return b.add(ctx, op)
}

func (b *BatchWriter) add(ctx context.Context, op Op) error {
	if len(b.ops) >= MaxBatchOps {
		if err := b.commit(ctx); err != nil {
			return err
		}
	}
	b.ops = append(b.ops, op)
	return nil
}

// Flush commits any staged operations and returns the total number of
// operations applied across all commits.
func (b *BatchWriter) Flush(ctx context.Context) (int, error) {
	if len(b.ops) > 0 {
		if err := b.commit(ctx); err != nil {
			return b.committed, err
		}
	}
	return b.committed, nil
}

func (b *BatchWriter) commit(ctx context.Context) error {
	n := len(b.ops)
	if err := b.st.Commit(ctx, b.ops); err != nil {
		b.ops = b.ops[:0]
		return fmt.Errorf("committing batch of %d: %w", n, err)
	}
	b.committed += n
	b.ops = b.ops[:0]
	return nil
}
