package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxBatchOps is the hard ceiling on mutations per atomic commit.
const MaxBatchOps = 500

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrPrecondition is returned when a commit precondition fails; the
	// whole commit is rolled back.
	ErrPrecondition = errors.New("commit precondition failed")
	// ErrBatchTooLarge is returned when a commit exceeds MaxBatchOps.
	ErrBatchTooLarge = errors.New("batch exceeds maximum operation count")
)

// Doc is a stored document: a path like "users/a@example.com" and a field map.
type Doc struct {
	ID   string
	Path string
	Data map[string]interface{}
}

// Str returns a string field, or "" when absent or not a string.
func (d *Doc) Str(field string) string {
	s, _ := GetField(d.Data, field).(string)
	return s
}

// F64 returns a numeric field as float64, or 0 when absent.
func (d *Doc) F64(field string) float64 {
	f, _ := toFloat(GetField(d.Data, field))
	return f
}

// Bool returns a boolean field, false when absent.
func (d *Doc) Bool(field string) bool {
	b, _ := GetField(d.Data, field).(bool)
	return b
}

// Time parses an RFC 3339 timestamp field; the zero time when absent or invalid.
func (d *Doc) Time(field string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, d.Str(field))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Strings returns a string-array field.
func (d *Doc) Strings(field string) []string {
	raw, ok := GetField(d.Data, field).([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether the field is present and non-nil.
func (d *Doc) Has(field string) bool {
	return GetField(d.Data, field) != nil
}

// Timestamp renders a time for storage. All document timestamps are RFC 3339
// UTC strings, so lexicographic range queries order chronologically.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Filter is one query constraint. Op is one of
// "==", "!=", "<", "<=", ">", ">=", "array-contains".
type Filter struct {
	Field string
	Op    string
	Value interface{}
}

// Query selects documents from a collection, or from every same-named
// collection when Group is set.
type Query struct {
	Collection string
	Group      bool
	Filters    []Filter
	OrderBy    string // field name; empty orders by document id
	Desc       bool
	Limit      int
	StartAfter string // document id cursor, valid only for id ordering
}

// OpKind discriminates mutation operations.
type OpKind int

const (
	OpSet    OpKind = iota // create or fully replace
	OpUpdate               // merge fields into an existing document
	OpDelete               // remove; absent target is a no-op
)

// Op is one mutation in a commit. Data values may be transform markers
// (Increment, ArrayUnion, ArrayRemove, DeleteField) and keys may be
// dotted paths into nested maps.
type Op struct {
	Kind    OpKind
	Path    string
	Data    map[string]interface{}
	Precond *Precond
}

// Precond guards a commit on the current state of the op's target document.
// A failed precondition aborts the whole commit with ErrPrecondition.
type Precond struct {
	Exists *bool
	Fields []FieldCond
}

// FieldCond ops: "==", "in", "null" (absent or nil), "not-null".
type FieldCond struct {
	Field  string
	Op     string
	Values []interface{}
}

// Transform markers usable as Op.Data values.
type (
	// Increment adds By to the current numeric value (0 when absent).
	Increment struct{ By float64 }
	// ArrayUnion appends values not already present.
	ArrayUnion struct{ Values []interface{} }
	// ArrayRemove removes all occurrences of the given values.
	ArrayRemove struct{ Values []interface{} }
	// DeleteField removes the field.
	DeleteField struct{}
)

// Store is the document-store capability every component depends on.
type Store interface {
	// Get fetches one document. ErrNotFound when absent.
	Get(ctx context.Context, path string) (*Doc, error)
	// Query returns matching documents.
	Query(ctx context.Context, q Query) ([]Doc, error)
	// Count returns the number of matching documents without fetching them.
	Count(ctx context.Context, q Query) (int64, error)
	// Commit applies up to MaxBatchOps mutations atomically.
	Commit(ctx context.Context, ops []Op) error
}

// Set builds a full-replace op.
func Set(path string, data map[string]interface{}) Op {
	return Op{Kind: OpSet, Path: path, Data: data}
}

// Update builds a field-merge op; it fails the commit if the target is absent.
func Update(path string, data map[string]interface{}) Op {
	return Op{Kind: OpUpdate, Path: path, Data: data}
}

// Delete builds a delete op.
func Delete(path string) Op {
	return Op{Kind: OpDelete, Path: path}
}

// ParentCollection returns the collection path of a document path.
func ParentCollection(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// DocID returns the final segment of a document path.
func DocID(path string) string {
	i := strings.LastIndex(path, "/")
	return path[i+1:]
}

// CollectionName returns the final segment of a collection path, which is
// also the collection-group name.
func CollectionName(collection string) string {
	i := strings.LastIndex(collection, "/")
	return collection[i+1:]
}
