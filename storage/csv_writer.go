package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"acs-pipeline/models"
)

// CSVWriter writes result tables to a CSV file. It is safe for
// concurrent use.
type CSVWriter struct {
	mu            sync.Mutex
	file          *os.File
	writer        *csv.Writer
	headerWritten bool
	columns       []string
}

// NewCSVWriter creates (or truncates) the CSV file at the given path.
// Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	return &CSVWriter{file: f, writer: csv.NewWriter(f)}, nil
}

// Write appends the rows of table. The header, year followed by the
// table's columns, is taken from the first table written; later tables
// are written against the same columns and their extra columns dropped.
// Missing cells are left empty.
func (c *CSVWriter) Write(ctx context.Context, table *models.ResultTable) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if table == nil {
		return nil
	}

	if !c.headerWritten {
		c.columns = append([]string(nil), table.Columns...)
		if err := c.writer.Write(append([]string{"year"}, c.columns...)); err != nil {
			return fmt.Errorf("csv: write header: %w", err)
		}
		c.headerWritten = true
	}

	record := make([]string, len(c.columns)+1)
	for i, r := range table.Rows {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		record[0] = strconv.Itoa(r.Year)
		for j, col := range c.columns {
			record[j+1] = models.FormatValue(r.Cells[col])
		}
		if err := c.writer.Write(record); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
