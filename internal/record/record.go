// Package record turns comma-separated roster text into a keyed table of records.
package record

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/normalize"
)

// Separator splits header and data cells. Quoting and escaping are not supported.
const Separator = ","

// DefaultNameColumn is the header holding the name each record is keyed by.
const DefaultNameColumn = "Child Name"

// ErrMalformedInput is returned when the text cannot be a roster at all.
var ErrMalformedInput = errors.New("malformed tabular input")

// Record is one parsed data row. It is immutable; accessors hand out copies.
type Record struct {
	key    string
	fields map[string]string
}

// Key returns the normalized name key.
func (r Record) Key() string { return r.key }

// Get returns the cell for column, or "" when the column is absent.
func (r Record) Get(column string) string { return r.fields[column] }

// Lookup returns the cell for column and whether the column exists.
func (r Record) Lookup(column string) (string, bool) {
	v, ok := r.fields[column]
	return v, ok
}

// Fields returns a copy of the column to value mapping.
func (r Record) Fields() map[string]string {
	out := make(map[string]string, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// Stats describes how the data rows of one parse were treated.
type Stats struct {
	DataRows   int `json:"data_rows"`
	Accepted   int `json:"accepted"`
	Malformed  int `json:"malformed"`
	MissingKey int `json:"missing_key"`
	Duplicates int `json:"duplicates"`
}

// Table maps normalized keys to records. Keys are unique; a later row with the
// same key replaces the earlier one.
type Table struct {
	header  []string
	records map[string]Record
	order   []string
	stats   Stats
}

// Lookup finds the record for an already normalized key.
func (t *Table) Lookup(key string) (Record, bool) {
	if t == nil {
		return Record{}, false
	}
	r, ok := t.records[key]
	return r, ok
}

// Len is the number of distinct keys.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Keys lists keys in the order they were first seen.
func (t *Table) Keys() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.order...)
}

// Header returns the trimmed header cells.
func (t *Table) Header() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.header...)
}

// Stats returns the parse statistics.
func (t *Table) Stats() Stats {
	if t == nil {
		return Stats{}
	}
	return t.stats
}

// Option configures a Parser.
type Option func(*Parser)

// WithNameColumn overrides the header used to derive keys.
func WithNameColumn(column string) Option {
	return func(p *Parser) {
		if column != "" {
			p.nameColumn = column
		}
	}
}

// WithLogger sets the logger for skipped rows and overwrites.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Parser converts raw text into a Table. It holds no per-parse state and is safe
// for concurrent use.
type Parser struct {
	nameColumn string
	logger     *zap.Logger
}

// NewParser creates a parser keyed on DefaultNameColumn unless overridden.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		nameColumn: DefaultNameColumn,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("record")
	return p
}

// Parse is shorthand for NewParser(opts...).Parse(raw).
func Parse(raw string, opts ...Option) (*Table, error) {
	return NewParser(opts...).Parse(raw)
}

// Parse builds a Table from raw. It fails only when raw has no separator or fewer than
// two non-blank lines; bad data rows are skipped and logged.
func (p *Parser) Parse(raw string) (*Table, error) {
	if strings.TrimSpace(raw) == "" || !strings.Contains(raw, Separator) {
		return nil, fmt.Errorf("%w: must be non-empty text with at least one comma", ErrMalformedInput)
	}

	lines := nonBlankLines(raw)
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: need a header and at least one data row", ErrMalformedInput)
	}

	header := splitCells(lines[0])
	table := &Table{
		header:  header,
		records: make(map[string]Record, len(lines)-1),
	}

	hasNameColumn := false
	for _, h := range header {
		if h == p.nameColumn {
			hasNameColumn = true
			break
		}
	}
	if !hasNameColumn {
		p.logger.Warn("Header has no name column; every row will be skipped",
			zap.String("column", p.nameColumn), zap.Strings("header", header))
	}

	for i, line := range lines[1:] {
		lineNo := i + 2
		table.stats.DataRows++

		cells := splitCells(line)
		if len(cells) != len(header) {
			table.stats.Malformed++
			p.logger.Warn("Skipping row with wrong cell count",
				zap.Int("line", lineNo), zap.Int("cells", len(cells)), zap.Int("expected", len(header)))
			continue
		}

		fields := make(map[string]string, len(header))
		for j, h := range header {
			fields[h] = cells[j]
		}

		key := normalize.Key(fields[p.nameColumn])
		if key == "" {
			table.stats.MissingKey++
			p.logger.Warn("Skipping row without a name key", zap.Int("line", lineNo))
			continue
		}

		if _, exists := table.records[key]; exists {
			table.stats.Duplicates++
			p.logger.Warn("Duplicate key, later row replaces earlier one",
				zap.String("key", key), zap.Int("line", lineNo))
		} else {
			table.order = append(table.order, key)
		}
		table.records[key] = Record{key: key, fields: fields}
		table.stats.Accepted++
	}

	p.logger.Debug("Parsed roster",
		zap.Int("records", len(table.records)),
		zap.Int("data_rows", table.stats.DataRows),
		zap.Int("skipped", table.stats.Malformed+table.stats.MissingKey))
	return table, nil
}

func nonBlankLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitCells(line string) []string {
	cells := strings.Split(line, Separator)
	for i, c := range cells {
		cells[i] = strings.TrimSpace(c)
	}
	return cells
}
