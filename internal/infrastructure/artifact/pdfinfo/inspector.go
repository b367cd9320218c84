// Package pdfinfo reads descriptive facts about generated PDF artifacts.
package pdfinfo

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

type Inspector struct{}

func NewInspector() *Inspector {
	return &Inspector{}
}

// Inspect returns the page count and size of a PDF. Non-PDF paths are an
// error so callers can skip them.
func (i *Inspector) Inspect(_ context.Context, path string) (map[string]string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, fmt.Errorf("not a pdf artifact: %s", path)
	}
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pdf: %w", err)
	}
	return map[string]string{
		"pages": strconv.Itoa(reader.NumPage()),
		"bytes": strconv.FormatInt(stat.Size(), 10),
	}, nil
}
