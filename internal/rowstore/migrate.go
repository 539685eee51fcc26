package rowstore

import (
	"context"

	"go.uber.org/zap"

	"letterdesk/pkg/backoff"
)

// Rename is one header cell rewritten by Migrate.
type Rename struct {
	Col  int
	From string
	To   string
}

// Migrate rewrites legacy header spellings of schema to their canonical
// names, then resolves the table so missing columns are appended. A legacy
// cell is left alone when the canonical column is also present.
func (c *Client) Migrate(ctx context.Context, schema Schema) ([]Rename, error) {
	name := schema.Name

	exists, err := backoff.Call(ctx, c.exec, name+".exists", func(ctx context.Context) (bool, error) {
		return c.backend.TableExists(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	if !exists {
		c.forget(name)
		_, err := c.Table(ctx, schema)
		return nil, err
	}

	live, err := backoff.Call(ctx, c.exec, name+".read_header", func(ctx context.Context) ([]string, error) {
		return c.backend.ReadRow(ctx, name, 1)
	})
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(live))
	for _, cell := range live {
		present[normalize(cell)] = true
	}

	var renames []Rename
	var cells []Cell
	for i, cell := range live {
		canonical := schema.canonical(cell)
		if normalize(cell) == normalize(canonical) || present[normalize(canonical)] {
			continue
		}
		present[normalize(canonical)] = true
		renames = append(renames, Rename{Col: i + 1, From: cell, To: canonical})
		cells = append(cells, Cell{Row: 1, Col: i + 1, Value: canonical})
	}

	if len(cells) > 0 {
		err := c.exec.Do(ctx, name+".migrate_header", func(ctx context.Context) error {
			return c.backend.WriteCells(ctx, name, cells)
		})
		if err != nil {
			return nil, err
		}
		for _, r := range renames {
			c.logger.Info("renamed legacy column",
				zap.String("table", name),
				zap.String("from", r.From),
				zap.String("to", r.To),
			)
		}
	}

	c.forget(name)
	if _, err := c.Table(ctx, schema); err != nil {
		return renames, err
	}
	return renames, nil
}
