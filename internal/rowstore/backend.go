// Package rowstore is the only path to the shared workbook.
//
// A workbook holds named tables. Row 1 of every table is its header; data
// rows start at row 2. All row and column numbers in this package are
// 1-based, matching the remote store.
package rowstore

import "context"

// Cell addresses one value in a table.
type Cell struct {
	Row   int
	Col   int
	Value string
}

// Backend is the raw remote API. Implementations do not retry, cache or
// throttle; Client layers that on top.
type Backend interface {
	TableExists(ctx context.Context, table string) (bool, error)
	CreateTable(ctx context.Context, table string, header []string) error
	// ReadAll returns every row including the header. Rows may be ragged.
	ReadAll(ctx context.Context, table string) ([][]string, error)
	ReadRow(ctx context.Context, table string, row int) ([]string, error)
	// ReadColumn returns one column including the header cell.
	ReadColumn(ctx context.Context, table string, col int) ([]string, error)
	WriteRow(ctx context.Context, table string, row int, values []string) error
	WriteCells(ctx context.Context, table string, cells []Cell) error
	AppendRow(ctx context.Context, table string, values []string) error
	// GrowColumns makes sure the grid is at least cols wide.
	GrowColumns(ctx context.Context, table string, cols int) error
}
