// Package dataset holds tabular query results and the operations the
// extraction job performs on them: concatenation, duplicate removal,
// partitioning and columnar serialization.
package dataset

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Row maps column names to values as decoded from the query engine.
type Row map[string]any

// Dataset is an ordered sequence of rows sharing an ordered column list.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// New creates a dataset from an ordered column list and rows. Keys present in
// rows but missing from columns are appended in sorted order of first
// appearance per row.
func New(columns []string, rows []Row) *Dataset {
	ds := &Dataset{
		Columns: append([]string(nil), columns...),
		Rows:    rows,
	}
	ds.addColumnsFrom(rows)
	return ds
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Value returns the value of column col in row i.
func (d *Dataset) Value(i int, col string) (any, bool) {
	if i < 0 || i >= d.Len() {
		return nil, false
	}
	v, ok := d.Rows[i][col]
	return v, ok
}

// Append concatenates other onto d. Columns are unioned in first-seen order.
func (d *Dataset) Append(other *Dataset) {
	if other == nil {
		return
	}
	seen := d.columnSet()
	for _, col := range other.Columns {
		if !seen[col] {
			seen[col] = true
			d.Columns = append(d.Columns, col)
		}
	}
	d.Rows = append(d.Rows, other.Rows...)
}

// Dedup removes rows identical across all columns, keeping the first
// occurrence, and returns the number of rows removed.
func (d *Dataset) Dedup() int {
	if d.Len() == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(d.Rows))
	kept := d.Rows[:0]
	for _, row := range d.Rows {
		key := rowKey(d.Columns, row)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	removed := len(d.Rows) - len(kept)
	clear(d.Rows[len(kept):])
	d.Rows = kept
	return removed
}

// Split partitions the rows into n contiguous datasets of near-equal size.
// The first len%n partitions hold one extra row. Every partition shares the
// full column list, so empty partitions keep the schema.
func (d *Dataset) Split(n int) ([]*Dataset, error) {
	if n <= 0 {
		return nil, fmt.Errorf("split into %d partitions: count must be positive", n)
	}
	total := d.Len()
	base, extra := total/n, total%n

	parts := make([]*Dataset, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		var rows []Row
		if d != nil {
			rows = d.Rows[start : start+size : start+size]
		}
		parts = append(parts, &Dataset{
			Columns: d.columns(),
			Rows:    rows,
		})
		start += size
	}
	return parts, nil
}

func (d *Dataset) columns() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.Columns...)
}

func (d *Dataset) columnSet() map[string]bool {
	set := make(map[string]bool, len(d.Columns))
	for _, col := range d.Columns {
		set[col] = true
	}
	return set
}

func (d *Dataset) addColumnsFrom(rows []Row) {
	seen := d.columnSet()
	for _, row := range rows {
		var missing []string
		for col := range row {
			if !seen[col] {
				missing = append(missing, col)
			}
		}
		sort.Strings(missing)
		for _, col := range missing {
			seen[col] = true
			d.Columns = append(d.Columns, col)
		}
	}
}

// rowKey encodes a row's values in column order. Missing and null values
// encode identically.
func rowKey(columns []string, row Row) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, col := range columns {
		if i > 0 {
			b.WriteByte(',')
		}
		encoded, err := json.Marshal(row[col])
		if err != nil {
			fmt.Fprintf(&b, "%#v", row[col])
			continue
		}
		b.Write(encoded)
	}
	b.WriteByte(']')
	return b.String()
}
