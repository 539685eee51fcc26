package rowstore

import "strings"

// Schema is the versioned column set of one table. Aliases lists legacy
// header spellings per canonical column; they are honoured on read and
// rewritten by Migrate.
type Schema struct {
	Name    string
	Version int
	Columns []string
	Aliases map[string][]string
	// LastKeyWins resolves duplicate keys to the most recent row instead of
	// the first one.
	LastKeyWins bool
}

// Key is the lookup column.
func (s Schema) Key() string {
	if len(s.Columns) == 0 {
		return ""
	}
	return s.Columns[0]
}

func (s Schema) canonical(name string) string {
	n := normalize(name)
	for _, c := range s.Columns {
		if normalize(c) == n {
			return c
		}
	}
	for c, aliases := range s.Aliases {
		for _, a := range aliases {
			if normalize(a) == n {
				return c
			}
		}
	}
	return n
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Record is one row keyed by canonical column name.
type Record map[string]string

// Get returns the value of column, or "".
func (r Record) Get(column string) string {
	return r[column]
}

// Header is the live header of a table resolved against its schema.
type Header struct {
	cells []string
	names []string // canonical name per position
	index map[string]int
}

func resolveHeader(schema Schema, cells []string) Header {
	h := Header{
		cells: append([]string(nil), cells...),
		names: make([]string, len(cells)),
		index: make(map[string]int, len(cells)),
	}
	for i, cell := range cells {
		name := schema.canonical(cell)
		h.names[i] = name
		if name == "" {
			continue
		}
		if _, dup := h.index[name]; !dup {
			h.index[name] = i
		}
	}
	return h
}

// Width is the number of header cells.
func (h Header) Width() int { return len(h.cells) }

// Cells returns the header as stored.
func (h Header) Cells() []string { return append([]string(nil), h.cells...) }

// Index returns the 0-based position of column.
func (h Header) Index(column string) (int, bool) {
	i, ok := h.index[column]
	return i, ok
}

// Has reports whether column is present under any spelling.
func (h Header) Has(column string) bool {
	_, ok := h.index[column]
	return ok
}

// Missing lists schema columns absent from the live header, in schema order.
func (h Header) Missing(schema Schema) []string {
	var out []string
	for _, c := range schema.Columns {
		if !h.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Record maps a stored row onto canonical names. Short rows read as "".
func (h Header) Record(cells []string) Record {
	rec := make(Record, len(h.names))
	for i, name := range h.names {
		if name == "" {
			continue
		}
		if _, seen := rec[name]; seen {
			continue
		}
		if i < len(cells) {
			rec[name] = cells[i]
		} else {
			rec[name] = ""
		}
	}
	return rec
}

// Row lays rec out in header order on top of base. Columns absent from rec
// keep their base value; columns absent from the header are dropped.
func (h Header) Row(rec Record, base []string) []string {
	out := make([]string, len(h.cells))
	copy(out, base)
	for name, v := range rec {
		if i, ok := h.index[name]; ok {
			out[i] = v
		}
	}
	return out
}

func (h Header) extend(schema Schema, columns []string) Header {
	return resolveHeader(schema, append(h.Cells(), columns...))
}
