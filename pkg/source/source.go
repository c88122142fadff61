// Package source defines the database adapter contract the table
// loader reads through, plus a bbolt-backed reference implementation
// usable for tests and demos without a network database.
package source

import "context"

// Column is one column value of a row, as handed to the loader by
// iterate_rows. Value is nil when IsNull is true.
type Column struct {
	Name   string
	Value  []byte
	IsNull bool
}

// Row is a full row presented as (column_name, value_bytes, is_null)
// tuples; the loader extracts both the payload columns and the
// configured index key columns from it.
type Row []Column

// TableDescriptor identifies the source-side table (and optional
// select statement override) the adapter should read for one
// configured cache table.
type TableDescriptor struct {
	Name            string
	SelectStatement string
}

// RowEmitter receives rows streamed by IterateRows. Returning an error
// stops iteration.
type RowEmitter func(row Row) error

// DatabaseAdapter is the external collaborator contract the loader
// depends on. The core never specifies how it is implemented —
// MySQL/SQLite/Postgres wire plumbing is explicitly out of scope —
// only that it can connect, count, and stream rows.
type DatabaseAdapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	CountRows(ctx context.Context, desc TableDescriptor) (uint64, error)
	IterateRows(ctx context.Context, desc TableDescriptor, emit RowEmitter) error
}
