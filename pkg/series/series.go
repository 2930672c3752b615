// Package series holds per-site, date-indexed, multi-variable tables.
//
// Rows are unique dates in ascending order. Every column carries a presence
// mask so a date that one variable covers and another does not keeps its row
// with the absent cell marked, rather than being dropped.
package series

import (
	"fmt"
	"sort"
	"time"

	"github.com/3leaps/siterun/pkg/runconfig"
)

// Column is one variable's values aligned to a table's dates.
type Column struct {
	Name    string
	Values  []float64
	Present []bool
}

// Table is a site's date-indexed table for one resolution.
type Table struct {
	Site       string
	Resolution runconfig.Resolution
	Dates      []time.Time
	Columns    []Column
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Dates)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Value returns the cell at row for the named column and whether it is present.
func (t *Table) Value(row int, name string) (float64, bool) {
	c, ok := t.Column(name)
	if !ok || row < 0 || row >= len(c.Values) {
		return 0, false
	}
	return c.Values[row], c.Present[row]
}

// Builder accumulates an outer join of variables keyed by date.
type Builder struct {
	site  string
	res   runconfig.Resolution
	index map[time.Time]int
	dates []time.Time
	cols  []Column
}

// NewBuilder starts a table whose rows are seeded from dates.
func NewBuilder(site string, res runconfig.Resolution, seed []time.Time) *Builder {
	b := &Builder{
		site:  site,
		res:   res,
		index: make(map[time.Time]int, len(seed)),
	}
	for _, d := range seed {
		b.row(d)
	}
	return b
}

func (b *Builder) row(d time.Time) int {
	d = d.UTC()
	if i, ok := b.index[d]; ok {
		return i
	}
	i := len(b.dates)
	b.index[d] = i
	b.dates = append(b.dates, d)
	for c := range b.cols {
		b.cols[c].Values = append(b.cols[c].Values, 0)
		b.cols[c].Present = append(b.cols[c].Present, false)
	}
	return i
}

// Join adds a column, extending the row set with any dates not yet seen.
//
// missing may be nil. When a date repeats within one variable the last
// value wins. Joining a name that already exists replaces that column.
func (b *Builder) Join(name string, dates []time.Time, values []float64, missing []bool) error {
	if len(dates) != len(values) {
		return fmt.Errorf("series %s: %d dates but %d values", name, len(dates), len(values))
	}
	if missing != nil && len(missing) != len(values) {
		return fmt.Errorf("series %s: %d values but %d missing flags", name, len(values), len(missing))
	}

	rows := make([]int, len(dates))
	for i, d := range dates {
		rows[i] = b.row(d)
	}

	col := Column{
		Name:    name,
		Values:  make([]float64, len(b.dates)),
		Present: make([]bool, len(b.dates)),
	}
	for i, r := range rows {
		if missing != nil && missing[i] {
			col.Values[r] = 0
			col.Present[r] = false
			continue
		}
		col.Values[r] = values[i]
		col.Present[r] = true
	}

	for i := range b.cols {
		if b.cols[i].Name == name {
			b.cols[i] = col
			return nil
		}
	}
	b.cols = append(b.cols, col)
	return nil
}

// Table returns the accumulated rows sorted by ascending date.
func (b *Builder) Table() *Table {
	order := make([]int, len(b.dates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return b.dates[order[i]].Before(b.dates[order[j]])
	})

	t := &Table{
		Site:       b.site,
		Resolution: b.res,
		Dates:      make([]time.Time, len(order)),
		Columns:    make([]Column, len(b.cols)),
	}
	for i, r := range order {
		t.Dates[i] = b.dates[r]
	}
	for c, src := range b.cols {
		dst := Column{
			Name:    src.Name,
			Values:  make([]float64, len(order)),
			Present: make([]bool, len(order)),
		}
		for i, r := range order {
			dst.Values[i] = src.Values[r]
			dst.Present[i] = src.Present[r]
		}
		t.Columns[c] = dst
	}
	return t
}
