package rowstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"letterdesk/internal/apperr"
	"letterdesk/pkg/backoff"
	"letterdesk/pkg/metrics"
)

// mutateAttempts bounds read-modify-write retries on version conflict.
const mutateAttempts = 3

// Table is a resolved handle to one table.
type Table struct {
	client     *Client
	schema     Schema
	header     Header
	resolvedAt time.Time
}

func (t *Table) Name() string      { return t.schema.Name }
func (t *Table) Schema() Schema    { return t.schema }
func (t *Table) Header() Header    { return t.header }
func (t *Table) op(s string) string { return t.schema.Name + "." + s }

// Snapshot returns the cached whole-table read, fetching it through the
// fetch gate on a miss. Concurrent misses in one process share a fetch.
func (t *Table) Snapshot(ctx context.Context) (*Snapshot, error) {
	c := t.client
	if s, ok := c.cache.Get(t.schema.Name); ok {
		metrics.RecordCacheLookup(t.schema.Name, true)
		return s, nil
	}
	metrics.RecordCacheLookup(t.schema.Name, false)

	// A read that began before the last write must not be shared with
	// callers arriving after it.
	gen := c.cache.Generation(t.schema.Name)
	key := fmt.Sprintf("snapshot:%s:%d", t.schema.Name, gen)
	v, err, _ := c.reads.Do(key, func() (any, error) {
		return t.fetchAt(ctx, gen)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Fresh reads the whole table, bypassing and then refilling the cache.
func (t *Table) Fresh(ctx context.Context) (*Snapshot, error) {
	c := t.client
	c.cache.Drop(t.schema.Name)
	return t.fetchAt(ctx, c.cache.Generation(t.schema.Name))
}

// fetchAt reads the whole table. The result is cached only if no write
// dropped the table since gen was taken.
func (t *Table) fetchAt(ctx context.Context, gen uint64) (*Snapshot, error) {
	c := t.client
	name := t.schema.Name

	if err := c.gate.Wait(ctx, name); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("fetch gate unavailable", zap.String("table", name), zap.Error(err))
	}

	grid, err := backoff.Call(ctx, c.exec, t.op("read_all"), func(ctx context.Context) ([][]string, error) {
		return c.backend.ReadAll(ctx, name)
	})
	if err != nil {
		return nil, err
	}

	if err := c.gate.Mark(ctx, name); err != nil {
		c.logger.Warn("fetch gate mark failed", zap.String("table", name), zap.Error(err))
	}

	header := t.header
	if len(grid) > 0 && len(trimRight(grid[0])) > 0 {
		header = resolveHeader(t.schema, trimRight(grid[0]))
	}

	snap := &Snapshot{Table: name, Header: header, FetchedAt: c.now()}
	for i := 1; i < len(grid); i++ {
		cells := grid[i]
		if len(trimRight(cells)) == 0 {
			continue
		}
		snap.Rows = append(snap.Rows, Row{
			Number:  i + 1,
			Record:  header.Record(cells),
			Version: VersionOf(cells),
		})
	}
	if !c.cache.PutIfCurrent(snap, gen) {
		c.logger.Debug("snapshot superseded by a write, not cached", zap.String("table", name))
	}
	return snap, nil
}

// Locate scans the key column for key and returns the matching row number:
// the first match, or the last one when the schema sets LastKeyWins.
// Matching ignores case and surrounding space.
func (t *Table) Locate(ctx context.Context, key string) (int, error) {
	c := t.client
	idx, ok := t.header.Index(t.schema.Key())
	if !ok {
		return 0, fmt.Errorf("%s: key column %q missing from header", t.schema.Name, t.schema.Key())
	}

	col, err := backoff.Call(ctx, c.exec, t.op("read_key_column"), func(ctx context.Context) ([]string, error) {
		return c.backend.ReadColumn(ctx, t.schema.Name, idx+1)
	})
	if err != nil {
		return 0, err
	}
	found := 0
	for i := 1; i < len(col); i++ {
		if equalKey(col[i], key) {
			found = i + 1
			if !t.schema.LastKeyWins {
				break
			}
		}
	}
	if found == 0 {
		return 0, apperr.NotFound(t.schema.Name, key)
	}
	return found, nil
}

// Read fetches one row fresh from the store.
func (t *Table) Read(ctx context.Context, row int) (Row, error) {
	cells, err := t.readCells(ctx, row)
	if err != nil {
		return Row{}, err
	}
	return Row{Number: row, Record: t.header.Record(cells), Version: VersionOf(cells)}, nil
}

func (t *Table) readCells(ctx context.Context, row int) ([]string, error) {
	c := t.client
	return backoff.Call(ctx, c.exec, t.op("read_row"), func(ctx context.Context) ([]string, error) {
		return c.backend.ReadRow(ctx, t.schema.Name, row)
	})
}

// Append writes rec as a new last row in a single call.
func (t *Table) Append(ctx context.Context, rec Record) error {
	c := t.client
	cells := t.header.Row(rec, nil)
	err := c.exec.Do(ctx, t.op("append"), func(ctx context.Context) error {
		return c.backend.AppendRow(ctx, t.schema.Name, cells)
	})
	c.cache.Drop(t.schema.Name)
	return err
}

// CompareAndWrite merges rec into row and writes the full row, provided the
// stored row still has version expected. Otherwise it returns
// apperr.ErrConflict and writes nothing.
func (t *Table) CompareAndWrite(ctx context.Context, row int, expected Version, rec Record) (Row, error) {
	c := t.client
	unlock, err := c.locker.Lock(ctx, fmt.Sprintf("rowstore:%s:%d", t.schema.Name, row))
	if err != nil {
		return Row{}, err
	}
	defer unlock()

	current, err := t.readCells(ctx, row)
	if err != nil {
		return Row{}, err
	}
	if VersionOf(current) != expected {
		metrics.IncrementWriteConflict(t.schema.Name)
		return Row{}, fmt.Errorf("%s row %d: %w", t.schema.Name, row, apperr.ErrConflict)
	}

	cells := t.header.Row(rec, current)
	err = c.exec.Do(ctx, t.op("write_row"), func(ctx context.Context) error {
		return c.backend.WriteRow(ctx, t.schema.Name, row, cells)
	})
	c.cache.Drop(t.schema.Name)
	if err != nil {
		return Row{}, err
	}
	return Row{Number: row, Record: t.header.Record(cells), Version: VersionOf(cells)}, nil
}

// Mutate locates key, applies fn to a fresh copy of the row and writes it
// back conditionally, retrying when another writer got there first. An error
// from fn aborts without writing.
func (t *Table) Mutate(ctx context.Context, key string, fn func(rec Record) error) (Row, error) {
	row, err := t.Locate(ctx, key)
	if err != nil {
		return Row{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= mutateAttempts; attempt++ {
		current, err := t.Read(ctx, row)
		if err != nil {
			return Row{}, err
		}
		rec := current.Record
		if err := fn(rec); err != nil {
			return Row{}, err
		}
		written, err := t.CompareAndWrite(ctx, row, current.Version, rec)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return Row{}, err
		}
		lastErr = err
		t.client.logger.Warn("row changed during update, retrying",
			zap.String("table", t.schema.Name),
			zap.Int("row", row),
			zap.Int("attempt", attempt),
		)
	}
	return Row{}, lastErr
}

// WriteFields writes the given columns of row as individual cells in one
// batch. Columns not in the header are skipped.
func (t *Table) WriteFields(ctx context.Context, row int, fields Record) error {
	c := t.client
	cells := make([]Cell, 0, len(fields))
	for name, v := range fields {
		idx, ok := t.header.Index(name)
		if !ok {
			c.logger.Debug("skipping unknown column", zap.String("table", t.schema.Name), zap.String("column", name))
			continue
		}
		cells = append(cells, Cell{Row: row, Col: idx + 1, Value: v})
	}
	if len(cells) == 0 {
		return nil
	}
	err := c.exec.Do(ctx, t.op("write_cells"), func(ctx context.Context) error {
		return c.backend.WriteCells(ctx, t.schema.Name, cells)
	})
	c.cache.Drop(t.schema.Name)
	return err
}

func equalKey(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Lock takes the table-scoped lock named key, for callers that must check
// and append atomically.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	return t.client.locker.Lock(ctx, fmt.Sprintf("rowstore:%s:key:%s", t.schema.Name, strings.ToLower(key)))
}
