package store

import (
	"context"
	"fmt"
)

// DefaultPurgePageSize is the page size used when none is given.
const DefaultPurgePageSize = 500

// Purge deletes every document in a collection, paging by document id so the
// whole collection is never held in memory. Purging an empty or non-existent
// collection is a no-op, which keeps the operation retry safe. Returns the
// number of documents deleted.
func Purge(ctx context.Context, st Store, collection string, pageSize int) (int, error) {
	if pageSize <= 0 || pageSize > MaxBatchOps {
		pageSize = DefaultPurgePageSize
	}

	total := 0
	for {
		docs, err := st.Query(ctx, Query{Collection: collection, Limit: pageSize})
		if err != nil {
			return total, fmt.Errorf("querying %s for purge: %w", collection, err)
		}
		if len(docs) == 0 {
			return total, nil
		}

		bw := NewBatchWriter(st)
		for _, doc := range docs {
			if err := bw.Delete(ctx, doc.Path); err != nil {
				return total, fmt.Errorf("purging %s: %w", collection, err)
			}
		}
		n, err := bw.Flush(ctx)
		total += n
		if err != nil {
			return total, fmt.Errorf("purging %s: %w", collection, err)
		}
	}
}
