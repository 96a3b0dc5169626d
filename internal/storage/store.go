package storage

import "context"

// FieldID addresses the document id in filters and ordering.
const FieldID = "__id"

type Operator int

const (
	OpEqual Operator = iota
	// OpContains matches documents whose array field holds the value.
	OpContains
)

type Filter struct {
	Field string
	Op    Operator
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

func Contains(field string, value any) Filter {
	return Filter{Field: field, Op: OpContains, Value: value}
}

func ByID(id string) Filter {
	return Eq(FieldID, id)
}

// Order sorts query results by a field. The zero value sorts by document id.
type Order struct {
	Field string
	Desc  bool
}

type Query struct {
	Collection string
	Filters    []Filter
	Order      Order
	// Limit caps the result set; zero means unlimited.
	Limit int
	// LimitToLast keeps the last Limit documents of the ordered result instead of the first.
	LimitToLast bool
}

type DocRef struct {
	Collection string
	ID         string
}

type Document struct {
	Collection string
	ID         string
	Fields     Fields
}

// Decode copies the document fields into v using its msgpack tags.
func (d Document) Decode(v any) error {
	return d.Fields.Decode(v)
}

// Snapshot is the full result set of a query at store Version.
type Snapshot struct {
	Version uint64
	Docs    []Document
}

type MergePolicy int

const (
	// Overwrite replaces the whole document.
	Overwrite MergePolicy = iota
	// Merge sets the given fields and keeps every other field of an existing document.
	Merge
)

type MutationKind int

const (
	MutationSet MutationKind = iota
	MutationAppendToSet
	MutationRemoveFromSet
)

type Mutation struct {
	Kind  MutationKind
	Field string
	Value any
}

func Set(field string, value any) Mutation {
	return Mutation{Kind: MutationSet, Field: field, Value: value}
}

func AppendToSet(field string, value any) Mutation {
	return Mutation{Kind: MutationAppendToSet, Field: field, Value: value}
}

func RemoveFromSet(field string, value any) Mutation {
	return Mutation{Kind: MutationRemoveFromSet, Field: field, Value: value}
}

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store with its own clock at write time.
// The clock never goes backwards, so documents created later always get larger values.
var ServerTimestamp = serverTimestamp{}

// Subscription is a standing live query.
type Subscription interface {
	// Close stops delivery. It is safe to call more than once.
	Close()
	// Done is closed once the subscription stops, either by Close, context
	// cancellation, store shutdown or a stream fault.
	Done() <-chan struct{}
}

// SnapshotFunc receives every snapshot of a live query. A non-nil error is a stream
// fault: it is delivered once and the subscription stops.
type SnapshotFunc func(Snapshot, error)

// DocumentStore is the set of document operations the engine relies on.
type DocumentStore interface {
	Upsert(ctx context.Context, collection, id string, fields Fields, policy MergePolicy) error
	Create(ctx context.Context, collection string, fields Fields) (string, error)
	Update(ctx context.Context, ref DocRef, mutations ...Mutation) error
	Delete(ctx context.Context, ref DocRef) error
	Get(ctx context.Context, ref DocRef) (Document, error)
	Query(ctx context.Context, q Query) (Snapshot, error)
	LiveQuery(ctx context.Context, q Query, fn SnapshotFunc) (Subscription, error)
}
