// Package spreadsheet flattens workbook uploads into CSV so the analysis
// engine only ever reads delimited text.
package spreadsheet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/analysis-portal/internal/core/domain"
)

type Preparer struct{}

func NewPreparer() *Preparer {
	return &Preparer{}
}

// Prepare converts .xlsx files to a sibling .csv built from the first sheet
// and removes the workbook. Any other file is returned untouched.
func (p *Preparer) Prepare(_ context.Context, path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return path, nil
	}

	rows, err := readFirstSheet(path)
	if err != nil {
		return "", domain.WrapError(domain.ErrValidation, "read workbook", err)
	}
	if len(rows) == 0 {
		return "", domain.WrapError(domain.ErrValidation, "read workbook", errors.New("first sheet is empty"))
	}

	target := strings.TrimSuffix(path, filepath.Ext(path)) + ".csv"
	if err := writeCSV(target, rows); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("remove workbook: %w", err)
	}
	return target, nil
}

func readFirstSheet(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return padRows(rows), nil
}

// GetRows trims trailing empty cells per row; the engine expects a
// rectangular table.
func padRows(rows [][]string) [][]string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			row = padded
		}
		out = append(out, row)
	}
	return out
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
