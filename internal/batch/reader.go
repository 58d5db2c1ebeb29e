package batch

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatOf picks the format from the file name; anything that is not a
// spreadsheet is read as CSV.
func FormatOf(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// RecordReader yields the cells of one row per call and io.EOF at the end.
type RecordReader interface {
	Read() ([]string, error)
	Close() error
}

func NewRecordReader(r io.Reader, format Format) (RecordReader, error) {
	switch format {
	case FormatXLSX:
		return newXLSXReader(r)
	default:
		return newCSVReader(r), nil
	}
}

type csvReader struct {
	r *csv.Reader
}

func newCSVReader(r io.Reader) *csvReader {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return &csvReader{r: cr}
}

func (c *csvReader) Read() ([]string, error) {
	record, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return record, nil
}

func (c *csvReader) Close() error { return nil }

// xlsxReader iterates the first sheet. The workbook archive is opened from
// memory but sheet rows are decoded one at a time.
type xlsxReader struct {
	file *excelize.File
	rows *excelize.Rows
}

func newXLSXReader(r io.Reader) (*xlsxReader, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errors.New("spreadsheet has no sheet")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	return &xlsxReader{file: f, rows: rows}, nil
}

func (x *xlsxReader) Read() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, fmt.Errorf("failed to read spreadsheet row: %w", err)
		}
		return nil, io.EOF
	}
	return x.rows.Columns()
}

func (x *xlsxReader) Close() error {
	if err := x.rows.Close(); err != nil {
		_ = x.file.Close()
		return err
	}
	return x.file.Close()
}
