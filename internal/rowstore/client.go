package rowstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"letterdesk/pkg/backoff"
)

// Options wires a Client.
type Options struct {
	Backend  Backend
	Executor *backoff.Executor
	Cache    *SnapshotCache
	Gate     FetchGate
	Locker   Locker
	Logger   *zap.Logger

	// HandleTTL bounds how long a resolved table handle is reused.
	HandleTTL time.Duration
	Now       func() time.Time
}

// Client owns table handles and cached snapshots for one workbook. Build one
// per process and pass it to every component.
type Client struct {
	backend   Backend
	exec      *backoff.Executor
	cache     *SnapshotCache
	gate      FetchGate
	locker    Locker
	logger    *zap.Logger
	handleTTL time.Duration
	now       func() time.Time

	mu      sync.Mutex
	handles map[string]*Table
	reads   singleflight.Group
}

func NewClient(opts Options) *Client {
	c := &Client{
		backend:   opts.Backend,
		exec:      opts.Executor,
		cache:     opts.Cache,
		gate:      opts.Gate,
		locker:    opts.Locker,
		logger:    opts.Logger,
		handleTTL: opts.HandleTTL,
		now:       opts.Now,
		handles:   make(map[string]*Table),
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.exec == nil {
		c.exec = backoff.New(backoff.DefaultConfig(), c.logger)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.cache == nil {
		c.cache = NewSnapshotCache(time.Minute, nil, c.now)
	}
	if c.gate == nil {
		c.gate = NopGate{}
	}
	if c.locker == nil {
		c.locker = NewLocalLocker()
	}
	if c.handleTTL <= 0 {
		c.handleTTL = 5 * time.Minute
	}
	return c
}

// Now is the client's clock.
func (c *Client) Now() time.Time { return c.now() }

// Executor is the shared retry policy.
func (c *Client) Executor() *backoff.Executor { return c.exec }

// Table returns a handle for schema, creating the table or appending missing
// header columns on first use.
func (c *Client) Table(ctx context.Context, schema Schema) (*Table, error) {
	c.mu.Lock()
	t, ok := c.handles[schema.Name]
	c.mu.Unlock()
	if ok && c.now().Sub(t.resolvedAt) < c.handleTTL {
		return t, nil
	}

	v, err, _ := c.reads.Do("handle:"+schema.Name, func() (any, error) {
		return c.resolve(ctx, schema)
	})
	if err != nil {
		return nil, err
	}
	t = v.(*Table)

	c.mu.Lock()
	c.handles[schema.Name] = t
	c.mu.Unlock()
	return t, nil
}

// Invalidate drops the cached snapshot of table.
func (c *Client) Invalidate(table string) {
	c.cache.Drop(table)
}

func (c *Client) forget(table string) {
	c.mu.Lock()
	delete(c.handles, table)
	c.mu.Unlock()
	c.cache.Drop(table)
}

func (c *Client) resolve(ctx context.Context, schema Schema) (*Table, error) {
	name := schema.Name

	exists, err := backoff.Call(ctx, c.exec, name+".exists", func(ctx context.Context) (bool, error) {
		return c.backend.TableExists(ctx, name)
	})
	if err != nil {
		return nil, err
	}

	if !exists {
		err := c.exec.Do(ctx, name+".create", func(ctx context.Context) error {
			return c.backend.CreateTable(ctx, name, schema.Columns)
		})
		if err != nil {
			return nil, err
		}
		c.logger.Info("created table", zap.String("table", name), zap.Int("columns", len(schema.Columns)))
		return c.newTable(schema, resolveHeader(schema, schema.Columns)), nil
	}

	live, err := backoff.Call(ctx, c.exec, name+".read_header", func(ctx context.Context) ([]string, error) {
		return c.backend.ReadRow(ctx, name, 1)
	})
	if err != nil {
		return nil, err
	}

	if len(trimRight(live)) == 0 {
		err := c.exec.Do(ctx, name+".write_header", func(ctx context.Context) error {
			if err := c.backend.GrowColumns(ctx, name, len(schema.Columns)); err != nil {
				return err
			}
			return c.backend.WriteRow(ctx, name, 1, schema.Columns)
		})
		if err != nil {
			return nil, err
		}
		return c.newTable(schema, resolveHeader(schema, schema.Columns)), nil
	}

	header := resolveHeader(schema, trimRight(live))
	missing := header.Missing(schema)
	if len(missing) == 0 {
		return c.newTable(schema, header), nil
	}

	width := header.Width()
	cells := make([]Cell, len(missing))
	for i, col := range missing {
		cells[i] = Cell{Row: 1, Col: width + i + 1, Value: col}
	}
	err = c.exec.Do(ctx, name+".extend_header", func(ctx context.Context) error {
		if err := c.backend.GrowColumns(ctx, name, width+len(missing)); err != nil {
			return err
		}
		return c.backend.WriteCells(ctx, name, cells)
	})
	if err != nil {
		return nil, err
	}
	c.cache.Drop(name)
	c.logger.Info("extended table header",
		zap.String("table", name),
		zap.Strings("added", missing),
	)
	return c.newTable(schema, header.extend(schema, missing)), nil
}

func (c *Client) newTable(schema Schema, header Header) *Table {
	return &Table{client: c, schema: schema, header: header, resolvedAt: c.now()}
}

func trimRight(cells []string) []string {
	n := len(cells)
	for n > 0 && cells[n-1] == "" {
		n--
	}
	return cells[:n]
}
