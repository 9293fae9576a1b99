package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// Supported upload extensions.
const (
	ExtCSV  = ".csv"
	ExtXLSX = ".xlsx"
)

// Row maps a column name to its cell value.
type Row map[string]string

// Dataset is an ordered set of rows sharing one column set.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of data rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// HasColumn reports whether name is one of the dataset's columns.
func (d *Dataset) HasColumn(name string) bool {
	if d == nil {
		return false
	}
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Head returns up to n leading rows.
func (d *Dataset) Head(n int) []Row {
	if d == nil {
		return nil
	}
	if n > len(d.Rows) {
		n = len(d.Rows)
	}
	return d.Rows[:n]
}

// Values returns the cells of row i in column order.
func (d *Dataset) Values(i int) []string {
	out := make([]string, len(d.Columns))
	for j, c := range d.Columns {
		out[j] = d.Rows[i][c]
	}
	return out
}

// ParseError reports a file that could not be turned into a dataset.
type ParseError struct {
	Name  string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Name, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

var (
	// ErrUnsupportedType is returned for files that are neither CSV nor XLSX.
	ErrUnsupportedType = errors.New("unsupported file type (expected .csv or .xlsx)")
	// ErrNoHeader is returned when a file has no header row.
	ErrNoHeader = errors.New("file has no header row")
)

// IsSupported reports whether the file name has an accepted extension.
func IsSupported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtCSV, ExtXLSX:
		return true
	}
	return false
}

// ParseFile decodes an uploaded file by its extension. On failure it returns a nil
// dataset and a *ParseError; the cause is logged.
func ParseFile(name string, data []byte) (*Dataset, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtCSV:
		records, err = readCSV(data)
	case ExtXLSX:
		records, err = readXLSX(data)
	default:
		err = ErrUnsupportedType
	}

	var ds *Dataset
	if err == nil {
		ds, err = fromRecords(records)
	}
	if err != nil {
		log.Warn().Err(err).Str("file", name).Msg("Error parsing file")
		return nil, &ParseError{Name: name, Cause: err}
	}

	log.Debug().Str("file", name).Int("columns", len(ds.Columns)).Int("rows", ds.Len()).Msg("parsed file")
	return ds, nil
}

func readCSV(data []byte) ([][]string, error) {
	// Drop a UTF-8 BOM written by spreadsheet exports.
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// fromRecords treats the first record as the header. Only empty lines are skipped;
// a delimiter-only line such as "," is a data row of blanks.
func fromRecords(records [][]string) (*Dataset, error) {
	for len(records) > 0 && emptyLine(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, ErrNoHeader
	}

	ds := &Dataset{Columns: headerNames(records[0])}
	for _, rec := range records[1:] {
		if emptyLine(rec) {
			continue
		}
		row := make(Row, len(ds.Columns))
		for i, col := range ds.Columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// headerNames names blank headers "Unnamed: N" and suffixes duplicates with ".1", ".2", ...
func headerNames(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]bool, len(header))
	dups := make(map[string]int)
	for i, h := range header {
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		name := h
		for used[name] {
			dups[h]++
			name = h + "." + strconv.Itoa(dups[h])
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// emptyLine reports a record with no cells, as excelize returns for an empty row.
func emptyLine(rec []string) bool {
	return len(rec) == 0 || (len(rec) == 1 && rec[0] == "")
}
