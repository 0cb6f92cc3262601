package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ============================================================================
// READERS — workbook sheets and CSV into header + rows
// ============================================================================

// ReadWorkbook opens an xlsx workbook and returns the named sheet.
// Sheet names are compared after trimming trailing whitespace.
func ReadWorkbook(r io.Reader, sheet string) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	want := strings.TrimRight(sheet, " \t")
	names := f.GetSheetList()
	trimmed := make([]string, len(names))
	actual := ""
	for i, name := range names {
		trimmed[i] = strings.TrimRight(name, " \t")
		if trimmed[i] == want && actual == "" {
			actual = name
		}
	}
	if actual == "" {
		return nil, nil, fmt.Errorf("%w: %q not in %q", ErrSheetNotFound, want, trimmed)
	}

	all, err := f.GetRows(actual)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", want, err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%w: sheet %q", ErrEmptyTable, want)
	}
	return all[0], all[1:], nil
}

// ReadCSV parses CSV data. Malformed rows are skipped.
func ReadCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: no header row", ErrEmptyTable)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}
