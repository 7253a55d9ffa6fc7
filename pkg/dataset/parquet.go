package dataset

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// ErrNoColumns is returned when a dataset without any column is serialized.
var ErrNoColumns = errors.New("dataset has no columns")

// WriteParquet writes ds to path as a Parquet file. Rows are staged as
// newline-delimited JSON next to the target and converted by an in-memory
// DuckDB instance, which infers column types from every row.
func WriteParquet(ctx context.Context, ds *Dataset, path string) error {
	if ds == nil || len(ds.Columns) == 0 {
		return fmt.Errorf("write parquet %s: %w", path, ErrNoColumns)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	var source string
	if ds.Len() == 0 {
		source = emptySelect(ds.Columns)
	} else {
		staged, err := stageNDJSON(ds, filepath.Dir(path))
		if err != nil {
			return err
		}
		defer os.Remove(staged)

		source = fmt.Sprintf(
			"SELECT %s FROM read_json_auto(%s, format = 'newline_delimited', sample_size = -1)",
			selectList(ds.Columns), quoteLiteral(staged),
		)
	}

	stmt := fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET)", source, quoteLiteral(path))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	return nil
}

// stageNDJSON writes one JSON object per row, keys in column order.
func stageNDJSON(ds *Dataset, dir string) (string, error) {
	f, err := os.CreateTemp(dir, ".dataset-*.ndjson")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	name := f.Name()

	w := bufio.NewWriter(f)
	for _, row := range ds.Rows {
		if err := writeRow(w, ds.Columns, row); err != nil {
			f.Close()
			os.Remove(name)
			return "", err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("flush staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return name, nil
}

func writeRow(w *bufio.Writer, columns []string, row Row) error {
	w.WriteByte('{')
	for i, col := range columns {
		if i > 0 {
			w.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return fmt.Errorf("encode column %q: %w", col, err)
		}
		value, err := json.Marshal(row[col])
		if err != nil {
			return fmt.Errorf("encode column %q: %w", col, err)
		}
		w.Write(key)
		w.WriteByte(':')
		w.Write(value)
	}
	w.WriteString("}\n")
	return nil
}

func emptySelect(columns []string) string {
	casts := make([]string, len(columns))
	for i, col := range columns {
		casts[i] = "CAST(NULL AS VARCHAR) AS " + quoteIdent(col)
	}
	return "SELECT " + strings.Join(casts, ", ") + " WHERE false"
}

func selectList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
