package rowstore

import (
	"sync"
	"time"
)

// TTLCache holds values for a fixed time. Expired entries are swept on Put.
type TTLCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

func NewTTLCache[V any](ttl time.Duration, now func() time.Time) *TTLCache[V] {
	if now == nil {
		now = time.Now
	}
	return &TTLCache[V]{ttl: ttl, now: now, entries: make(map[string]ttlEntry[V])}
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[V]) Put(key string, v V) {
	c.PutTTL(key, v, c.ttl)
}

func (c *TTLCache[V]) PutTTL(key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = ttlEntry[V]{value: v, expires: now.Add(ttl)}
}

// Len counts stored entries, expired ones included.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTLCache[V]) Drop(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]ttlEntry[V])
	c.mu.Unlock()
}

// Snapshot is a whole-table read.
type Snapshot struct {
	Table     string
	Header    Header
	Rows      []Row
	FetchedAt time.Time
}

// Row is one data row. Number is the remote row number (header is 1).
type Row struct {
	Number  int
	Record  Record
	Version Version
}

// Find returns the first row whose column equals value, ignoring case.
func (s *Snapshot) Find(column, value string) (Row, bool) {
	for _, r := range s.Rows {
		if equalKey(r.Record.Get(column), value) {
			return r, true
		}
	}
	return Row{}, false
}

// FindLast is Find with last match winning.
func (s *Snapshot) FindLast(column, value string) (Row, bool) {
	for i := len(s.Rows) - 1; i >= 0; i-- {
		if equalKey(s.Rows[i].Record.Get(column), value) {
			return s.Rows[i], true
		}
	}
	return Row{}, false
}

// Filter returns matching rows in storage order.
func (s *Snapshot) Filter(keep func(Record) bool) []Row {
	var out []Row
	for _, r := range s.Rows {
		if keep(r.Record) {
			out = append(out, r)
		}
	}
	return out
}

// SnapshotCache keeps one snapshot per table with a per-table TTL. Writes
// drop the entry; nothing patches it in place. Each drop bumps the table's
// generation, and a fetch only stores its result if the generation it
// started under is still current.
type SnapshotCache struct {
	entries *TTLCache[*Snapshot]
	def     time.Duration
	ttl     map[string]time.Duration

	mu  sync.Mutex
	gen map[string]uint64
}

// NewSnapshotCache uses def for tables without an entry in perTable.
func NewSnapshotCache(def time.Duration, perTable map[string]time.Duration, now func() time.Time) *SnapshotCache {
	ttl := make(map[string]time.Duration, len(perTable))
	for k, v := range perTable {
		ttl[k] = v
	}
	return &SnapshotCache{
		entries: NewTTLCache[*Snapshot](def, now),
		def:     def,
		ttl:     ttl,
		gen:     make(map[string]uint64),
	}
}

func (c *SnapshotCache) TTL(table string) time.Duration {
	if d, ok := c.ttl[table]; ok {
		return d
	}
	return c.def
}

func (c *SnapshotCache) Get(table string) (*Snapshot, bool) {
	return c.entries.Get(table)
}

// Generation is the number of drops seen for table.
func (c *SnapshotCache) Generation(table string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[table]
}

// Put stores s unconditionally.
func (c *SnapshotCache) Put(s *Snapshot) {
	c.entries.PutTTL(s.Table, s, c.TTL(s.Table))
}

// PutIfCurrent stores s only if no drop happened since gen was read. It
// reports whether s was stored.
func (c *SnapshotCache) PutIfCurrent(s *Snapshot, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[s.Table] != gen {
		return false
	}
	c.entries.PutTTL(s.Table, s, c.TTL(s.Table))
	return true
}

func (c *SnapshotCache) Drop(table string) {
	c.mu.Lock()
	c.gen[table]++
	c.entries.Drop(table)
	c.mu.Unlock()
}
