package connection

import "github.com/jackc/pgx/v5/pgconn"

// Result is a forward-only cursor over a completed query. Rows are
// materialized eagerly; the engine's result sets are job ids, step rows and
// scalars, so nothing here grows past a handful of rows.
type Result struct {
	columns      map[string]int
	rows         [][]string
	currentRow   int
	rowsAffected int64
}

func newResult(r *pgconn.Result) *Result {
	res := &Result{
		columns:      make(map[string]int, len(r.FieldDescriptions)),
		rowsAffected: r.CommandTag.RowsAffected(),
	}
	for i, fd := range r.FieldDescriptions {
		res.columns[string(fd.Name)] = i
	}
	res.rows = make([][]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		vals := make([]string, len(row))
		for i, v := range row {
			vals[i] = string(v)
		}
		res.rows = append(res.rows, vals)
	}
	return res
}

// HasData reports whether the cursor is positioned on a row.
func (r *Result) HasData() bool {
	return r.currentRow < len(r.rows)
}

// MoveNext advances the cursor one row.
func (r *Result) MoveNext() {
	if r.currentRow < len(r.rows) {
		r.currentRow++
	}
}

// GetString returns the value at col on the current row, or "" when the
// cursor or column is out of range.
func (r *Result) GetString(col int) string {
	if col < 0 || r.currentRow >= len(r.rows) || col >= len(r.rows[r.currentRow]) {
		return ""
	}
	return r.rows[r.currentRow][col]
}

// GetStringByName returns the named column's value on the current row, or
// "" when the column does not exist.
func (r *Result) GetStringByName(name string) string {
	col, ok := r.columns[name]
	if !ok {
		return ""
	}
	return r.GetString(col)
}

// RowsAffected returns the affected-row count of the statement that
// produced this result.
func (r *Result) RowsAffected() int64 {
	return r.rowsAffected
}
