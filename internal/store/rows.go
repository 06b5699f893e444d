package store

import (
	"bytes"
	"database/sql"
	"strconv"
	"strings"
	"time"

	hdbdriver "github.com/SAP/go-hdb/driver"
)

// Row is one result row keyed by column name. HANA reports upper-case
// names for unquoted identifiers, so the accessors tolerate either case.
type Row map[string]any

// Value looks a column up by exact, upper, then lower case.
func (r Row) Value(col string) (any, bool) {
	if v, ok := r[col]; ok {
		return v, true
	}
	if v, ok := r[strings.ToUpper(col)]; ok {
		return v, true
	}
	if v, ok := r[strings.ToLower(col)]; ok {
		return v, true
	}
	return nil, false
}

// String returns the column as a string, or "" when absent or NULL.
func (r Row) String(col string) string {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return ""
	}
}

// Int returns the column as an int, or 0 when absent or not numeric.
func (r Row) Int(col string) int {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return 0
}

// Float returns the column as a float64, or 0 when absent or not numeric.
func (r Row) Float(col string) float64 {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return 0
}

// Bytes returns the column as a byte slice, or nil when absent or NULL.
func (r Row) Bytes(col string) []byte {
	v, ok := r.Value(col)
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	}
	return nil
}

// IsNull reports whether the column is present and NULL.
func (r Row) IsNull(col string) bool {
	v, ok := r.Value(col)
	return ok && v == nil
}

const (
	scanPlain = iota
	scanClob
	scanBlob
)

// scanRows materialises a result set. LOB columns stream through
// driver.Lob into buffers; everything else scans into `any` and is
// normalised afterwards.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	kinds := make([]int, len(cols))
	for i, ct := range types {
		switch strings.ToUpper(ct.DatabaseTypeName()) {
		case "NCLOB", "CLOB", "TEXT":
			kinds[i] = scanClob
		case "BLOB":
			kinds[i] = scanBlob
		default:
			kinds[i] = scanPlain
		}
	}

	var out []Row
	for rows.Next() {
		dest := make([]any, len(cols))
		bufs := make([]*bytes.Buffer, len(cols))
		nulls := make([]*hdbdriver.NullLob, len(cols))
		for i := range cols {
			if kinds[i] == scanPlain {
				dest[i] = new(any)
				continue
			}
			lob := new(hdbdriver.Lob)
			buf := new(bytes.Buffer)
			lob.SetWriter(buf)
			nl := &hdbdriver.NullLob{Lob: lob}
			dest[i] = nl
			bufs[i] = buf
			nulls[i] = nl
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			switch kinds[i] {
			case scanClob:
				if !nulls[i].Valid {
					row[col] = nil
					continue
				}
				row[col] = bufs[i].String()
			case scanBlob:
				if !nulls[i].Valid {
					row[col] = nil
					continue
				}
				b := bufs[i].Bytes()
				copied := make([]byte, len(b))
				copy(copied, b)
				row[col] = copied
			default:
				row[col] = normalise(*(dest[i].(*any)))
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalise keeps scan results to a small value set: string, []byte,
// int64, float64, bool, time.Time, nil.
func normalise(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return t
	}
}
