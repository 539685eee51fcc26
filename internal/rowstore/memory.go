package rowstore

import (
	"context"
	"fmt"
	"sync"

	"letterdesk/internal/apperr"
)

// MemoryBackend keeps tables in process. It is used by tests and by local
// runs with store.backend=memory. Failures can be queued per operation.
type MemoryBackend struct {
	mu     sync.Mutex
	tables map[string]*memTable
	calls  map[string]int
	fail   map[string][]error
}

type memTable struct {
	rows [][]string
	cols int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tables: make(map[string]*memTable),
		calls:  make(map[string]int),
		fail:   make(map[string][]error),
	}
}

// Seed replaces table with rows (header first).
func (m *MemoryBackend) Seed(table string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &memTable{}
	for _, r := range rows {
		t.rows = append(t.rows, append([]string(nil), r...))
		if len(r) > t.cols {
			t.cols = len(r)
		}
	}
	m.tables[table] = t
}

// FailNext makes the next calls to op return errs in order. op is one of the
// Backend method names, e.g. "ReadAll".
func (m *MemoryBackend) FailNext(op string, errs ...error) {
	m.mu.Lock()
	m.fail[op] = append(m.fail[op], errs...)
	m.mu.Unlock()
}

// Calls reports how many times op was invoked.
func (m *MemoryBackend) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Rows returns a copy of table including the header.
func (m *MemoryBackend) Rows(table string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	return copyRows(t.rows)
}

// enter records the call and pops a queued failure. Caller holds m.mu.
func (m *MemoryBackend) enter(op string) error {
	m.calls[op]++
	if q := m.fail[op]; len(q) > 0 {
		m.fail[op] = q[1:]
		return q[0]
	}
	return nil
}

func (m *MemoryBackend) table(name string) (*memTable, error) {
	t, ok := m.tables[name]
	if !ok {
		return nil, apperr.NotFound("table", name)
	}
	return t, nil
}

func (m *MemoryBackend) TableExists(_ context.Context, table string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("TableExists"); err != nil {
		return false, err
	}
	_, ok := m.tables[table]
	return ok, nil
}

func (m *MemoryBackend) CreateTable(_ context.Context, table string, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateTable"); err != nil {
		return err
	}
	if _, ok := m.tables[table]; ok {
		return fmt.Errorf("table %q: %w", table, apperr.ErrAlreadyExists)
	}
	m.tables[table] = &memTable{rows: [][]string{append([]string(nil), header...)}, cols: len(header)}
	return nil
}

func (m *MemoryBackend) ReadAll(_ context.Context, table string) ([][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ReadAll"); err != nil {
		return nil, err
	}
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	return copyRows(t.rows), nil
}

func (m *MemoryBackend) ReadRow(_ context.Context, table string, row int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ReadRow"); err != nil {
		return nil, err
	}
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	if row < 1 || row > len(t.rows) {
		return nil, nil
	}
	return append([]string(nil), t.rows[row-1]...), nil
}

func (m *MemoryBackend) ReadColumn(_ context.Context, table string, col int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ReadColumn"); err != nil {
		return nil, err
	}
	t, err := m.table(table)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(t.rows))
	for i, r := range t.rows {
		if col-1 < len(r) {
			out[i] = r[col-1]
		}
	}
	return out, nil
}

func (m *MemoryBackend) WriteRow(_ context.Context, table string, row int, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("WriteRow"); err != nil {
		return err
	}
	t, err := m.table(table)
	if err != nil {
		return err
	}
	if len(values) > t.cols {
		return fmt.Errorf("row %d exceeds grid width %d", row, t.cols)
	}
	t.grow(row)
	r := t.rows[row-1]
	for len(r) < len(values) {
		r = append(r, "")
	}
	copy(r, values)
	t.rows[row-1] = r
	return nil
}

func (m *MemoryBackend) WriteCells(_ context.Context, table string, cells []Cell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("WriteCells"); err != nil {
		return err
	}
	t, err := m.table(table)
	if err != nil {
		return err
	}
	for _, c := range cells {
		if c.Col > t.cols {
			return fmt.Errorf("column %d exceeds grid width %d", c.Col, t.cols)
		}
	}
	for _, c := range cells {
		t.grow(c.Row)
		r := t.rows[c.Row-1]
		for len(r) < c.Col {
			r = append(r, "")
		}
		r[c.Col-1] = c.Value
		t.rows[c.Row-1] = r
	}
	return nil
}

func (m *MemoryBackend) AppendRow(_ context.Context, table string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AppendRow"); err != nil {
		return err
	}
	t, err := m.table(table)
	if err != nil {
		return err
	}
	t.rows = append(t.rows, append([]string(nil), values...))
	if len(values) > t.cols {
		t.cols = len(values)
	}
	return nil
}

func (m *MemoryBackend) GrowColumns(_ context.Context, table string, cols int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GrowColumns"); err != nil {
		return err
	}
	t, err := m.table(table)
	if err != nil {
		return err
	}
	if cols > t.cols {
		t.cols = cols
	}
	return nil
}

func (t *memTable) grow(row int) {
	for len(t.rows) < row {
		t.rows = append(t.rows, nil)
	}
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
