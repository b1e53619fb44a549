package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// readRows parses a headerless CSV file of numbers. Lines starting with #
// are ignored.
func readRows(r io.Reader) ([][]float64, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading csv: %w", err)
	}

	rows := make([][]float64, 0, len(records))
	for i, rec := range records {
		row := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j+1, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readRowsFile(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer f.Close()
	return readRows(f)
}

func writeRows(w io.Writer, rows [][]float64) error {
	writer := csv.NewWriter(w)
	for _, row := range rows {
		rec := make([]string, len(row))
		for j, v := range row {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// createFile opens path for writing, creating its directory.
func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating %s: %w", path, err)
	}
	return f, nil
}

func writeRowsFile(path string, rows [][]float64) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	if err := writeRows(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

// splitColumn separates the first column of every row from the rest.
func splitColumn(rows [][]float64) ([]float64, [][]float64, error) {
	first := make([]float64, len(rows))
	rest := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, nil, fmt.Errorf("row %d has %d columns, want a weight and values", i+1, len(row))
		}
		first[i], rest[i] = row[0], row[1:]
	}
	return first, rest, nil
}
