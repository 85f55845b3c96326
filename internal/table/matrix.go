package table

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"rentfeatures/internal/geometry"
)

// WriteMatrix writes a square matrix with suburb names as the first row and
// column.
func WriteMatrix(path string, m *geometry.Matrix) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(append([]string{"suburb"}, m.Names...)); err != nil {
		return fmt.Errorf("failed to write matrix header: %w", err)
	}
	record := make([]string, m.Len()+1)
	for i, name := range m.Names {
		record[0] = name
		for j, w := range m.W[i] {
			record[j+1] = strconv.FormatFloat(w, 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write matrix row %s: %w", name, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadMatrix reads a matrix written by WriteMatrix. Row and column names must
// agree.
func ReadMatrix(path string) (*geometry.Matrix, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}

	if len(t.header) == 0 {
		return nil, fmt.Errorf("matrix %s has an empty header", path)
	}
	names := t.header[1:]
	if len(t.records) != len(names) {
		return nil, fmt.Errorf("matrix %s has %d rows for %d columns", path, len(t.records), len(names))
	}

	m := geometry.NewMatrix(names)
	for i, rec := range t.records {
		if len(rec) != len(names)+1 || rec[0] != names[i] {
			return nil, fmt.Errorf("matrix %s row %d does not match header", path, i+1)
		}
		for j, v := range rec[1:] {
			w, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("matrix %s row %s: %w", path, names[i], err)
			}
			m.W[i][j] = w
		}
	}
	return m, nil
}
