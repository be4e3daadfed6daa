package lead

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/foxzi/leadmail/internal/placeholder"
)

// ImportResult summarizes an import run
type ImportResult struct {
	Total    int      `json:"total"`
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

var emailColumns = map[string]bool{
	"email":         true,
	"e-mail":        true,
	"email_address": true,
}

// ImportXLSX imports leads from a spreadsheet. The first row holds the
// column names; an empty sheet name selects the first sheet.
func (s *Store) ImportXLSX(ctx context.Context, path, sheet string) (*ImportResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	return s.importRows(ctx, rowsIter(rows))
}

// ImportCSV imports leads from CSV data with a header row
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	return s.importRows(ctx, func() ([]string, error) {
		return reader.Read()
	})
}

func rowsIter(rows [][]string) func() ([]string, error) {
	i := 0
	return func() ([]string, error) {
		if i >= len(rows) {
			return nil, io.EOF
		}
		row := rows[i]
		i++
		return row, nil
	}
}

// importRows maps header columns to placeholder names; the email column
// becomes the recipient and every other non-empty header becomes a field
func (s *Store) importRows(ctx context.Context, next func() ([]string, error)) (*ImportResult, error) {
	header, err := next()
	if err == io.EOF {
		return nil, fmt.Errorf("import data is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	keys := make([]string, len(header))
	emailIdx := -1
	for i, col := range header {
		key := placeholder.Normalize(col)
		if emailIdx == -1 && emailColumns[key] {
			emailIdx = i
			continue
		}
		keys[i] = key
	}
	if emailIdx == -1 {
		return nil, fmt.Errorf("email column not found")
	}

	result := &ImportResult{}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		row, err := next()
		if err == io.EOF {
			break
		}
		result.Total++
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", result.Total, err))
			result.Skipped++
			continue
		}

		if emailIdx >= len(row) || strings.TrimSpace(row[emailIdx]) == "" {
			result.Skipped++
			continue
		}

		lead := &Lead{
			Email:      strings.TrimSpace(row[emailIdx]),
			Attributes: make(map[string]string),
		}
		for i, key := range keys {
			if key == "" || i >= len(row) {
				continue
			}
			lead.Attributes[key] = strings.TrimSpace(row[i])
		}

		if err := s.Create(ctx, lead); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d (%s): %v", result.Total, lead.Email, err))
			result.Skipped++
			continue
		}
		result.Imported++
	}

	return result, nil
}
