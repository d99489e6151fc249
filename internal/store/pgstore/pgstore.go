// Package pgstore is the PostgreSQL-backed document store. Documents live in
// one JSONB table keyed by path, with the parent collection and the
// collection-group name denormalized for querying.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/runhub-backend/internal/config"
	"github.com/runhub-backend/internal/store"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to PostgreSQL and verifies the connection.
func New(cfg *config.PostgresConfig, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// RunMigrations creates the document table and its indexes.
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			path TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			group_name TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, doc_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_group ON documents(group_name)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops)`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, path string) (*store.Doc, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1`, path).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", path, store.ErrNotFound)
		}
		return nil, fmt.Errorf("getting document: %w", err)
	}

	data, err := decode(raw)
	if err != nil {
		return nil, err
	}
	return &store.Doc{ID: store.DocID(path), Path: path, Data: data}, nil
}

// Query implements store.Store.
func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Doc, error) {
	sql, args := buildQuery(q, false)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []store.Doc
	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		data, err := decode(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, store.Doc{ID: store.DocID(path), Path: path, Data: data})
	}
	return docs, rows.Err()
}

// Count implements store.Store.
func (s *Store) Count(ctx context.Context, q store.Query) (int64, error) {
	sql, args := buildQuery(q, true)
	var count int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// buildQuery renders a store.Query as SQL. Ordering by a document field uses
// a numeric key when the field holds a number and a text key otherwise, and
// excludes rows missing the field.
func buildQuery(q store.Query, count bool) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if count {
		sb.WriteString(`SELECT COUNT(*) FROM documents WHERE `)
	} else {
		sb.WriteString(`SELECT path, data FROM documents WHERE `)
	}
	if q.Group {
		sb.WriteString("group_name = " + arg(q.Collection))
	} else {
		sb.WriteString("collection = " + arg(q.Collection))
	}

	for _, f := range q.Filters {
		path := jsonPath(f.Field)
		switch f.Op {
		case "==":
			obj, _ := json.Marshal(nestedObject(f.Field, f.Value))
			sb.WriteString(" AND data @> " + arg(string(obj)) + "::jsonb")
		case "!=":
			sb.WriteString(" AND data #>> " + arg(path) + " IS DISTINCT FROM " + arg(fmt.Sprint(f.Value)))
		case "array-contains":
			elem, _ := json.Marshal([]interface{}{f.Value})
			sb.WriteString(" AND data #> " + arg(path) + " @> " + arg(string(elem)) + "::jsonb")
		case "<", "<=", ">", ">=":
			if n, ok := asNumber(f.Value); ok {
				sb.WriteString(" AND jsonb_typeof(data #> " + arg(path) + ") = 'number'")
				sb.WriteString(" AND (data #>> " + arg(path) + ")::numeric " + f.Op + " " + arg(n))
			} else {
				sb.WriteString(" AND data #>> " + arg(path) + " " + f.Op + " " + arg(fmt.Sprint(f.Value)))
			}
		}
	}

	if count {
		return sb.String(), args
	}

	if q.StartAfter != "" {
		sb.WriteString(" AND doc_id > " + arg(q.StartAfter))
	}

	dir := " ASC"
	if q.Desc {
		dir = " DESC"
	}
	if q.OrderBy == "" {
		sb.WriteString(" ORDER BY doc_id" + dir)
	} else {
		path := jsonPath(q.OrderBy)
		sb.WriteString(" AND data #> " + arg(path) + " IS NOT NULL")
		sb.WriteString(" ORDER BY (CASE WHEN jsonb_typeof(data #> " + arg(path) +
			") = 'number' THEN (data #>> " + arg(path) + ")::numeric END)" + dir + " NULLS LAST")
		sb.WriteString(", data #>> " + arg(path) + dir)
		sb.WriteString(", doc_id ASC")
	}

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}
	return sb.String(), args
}

// Commit implements store.Store. Operations apply inside one transaction;
// updates and preconditioned ops lock their row first so the check and the
// write cannot interleave with a concurrent commit.
func (s *Store) Commit(ctx context.Context, ops []store.Op) error {
	if err := store.ValidateOps(ops); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, op := range ops {
		if err := s.applyOp(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (s *Store) applyOp(ctx context.Context, tx pgx.Tx, op store.Op) error {
	needsRead := op.Kind == store.OpUpdate || op.Precond != nil

	var cur *store.Doc
	if needsRead {
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1 FOR UPDATE`, op.Path).Scan(&raw)
		switch {
		case err == pgx.ErrNoRows:
		case err != nil:
			return fmt.Errorf("reading %s: %w", op.Path, err)
		default:
			data, err := decode(raw)
			if err != nil {
				return err
			}
			cur = &store.Doc{ID: store.DocID(op.Path), Path: op.Path, Data: data}
		}
		if !store.CheckPrecond(cur, op.Precond) {
			return fmt.Errorf("%s: %w", op.Path, store.ErrPrecondition)
		}
	}

	switch op.Kind {
	case store.OpSet:
		return s.upsert(ctx, tx, op.Path, op.Data)
	case store.OpUpdate:
		if cur == nil {
			return fmt.Errorf("update %s: %w", op.Path, store.ErrNotFound)
		}
		if err := store.ApplyUpdate(cur.Data, op.Data); err != nil {
			return err
		}
		return s.upsert(ctx, tx, op.Path, cur.Data)
	case store.OpDelete:
		if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE path = $1`, op.Path); err != nil {
			return fmt.Errorf("deleting %s: %w", op.Path, err)
		}
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, tx pgx.Tx, path string, data map[string]interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}

	collection := store.ParentCollection(path)
	query := `
		INSERT INTO documents (path, collection, group_name, doc_id, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (path)
		DO UPDATE SET data = $5, updated_at = CURRENT_TIMESTAMP
	`
	_, err = tx.Exec(ctx, query, path, collection, store.CollectionName(collection), store.DocID(path), raw)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func decode(raw []byte) (map[string]interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return data, nil
}

func jsonPath(field string) []string {
	return strings.Split(field, ".")
}

func nestedObject(field string, value interface{}) map[string]interface{} {
	segs := strings.Split(field, ".")
	obj := map[string]interface{}{segs[len(segs)-1]: value}
	for i := len(segs) - 2; i >= 0; i-- {
		obj = map[string]interface{}{segs[i]: obj}
	}
	return obj
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
