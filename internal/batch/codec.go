package batch

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Longest values the record tables accept. The row validate tags carry the
// same limits.
const (
	MaxRollNoLength  = 64
	MaxNameLength    = 255
	MaxClassLength   = 32
	MaxSectionLength = 32
	MaxExamLength    = 255
)

// HeaderError reports a file whose header cannot be ingested.
type HeaderError struct {
	Kind   Kind
	Column string
	Reason string
}

func (e *HeaderError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("missing required column: %s", e.Column)
	}
	return e.Reason
}

// ValidationError reports a data row that failed validation. Row is the
// 1-based position among data rows, the header excluded.
type ValidationError struct {
	Row    int
	Column string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s %s", e.Row, e.Column, e.Reason)
}

// Header indexes the first record of a file. Lookups ignore case, blanks
// and a leading byte order mark.
type Header struct {
	names []string
	index map[string]int
}

func NewHeader(cells []string) *Header {
	h := &Header{names: make([]string, len(cells)), index: make(map[string]int, len(cells))}
	for i, cell := range cells {
		name := strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff"))
		h.names[i] = name
		if name == "" {
			continue
		}
		if _, dup := h.index[normalize(name)]; !dup {
			h.index[normalize(name)] = i
		}
	}
	return h
}

func (h *Header) Has(column string) bool {
	_, found := h.index[normalize(column)]
	return found
}

// Extra returns the named columns that are not in known, in file order.
func (h *Header) Extra(known []string) []string {
	skip := make(map[string]struct{}, len(known))
	for _, k := range known {
		skip[normalize(k)] = struct{}{}
	}
	var extra []string
	for i, name := range h.names {
		if name == "" || h.index[normalize(name)] != i {
			continue
		}
		if _, found := skip[normalize(name)]; !found {
			extra = append(extra, name)
		}
	}
	return extra
}

func normalize(column string) string {
	return strings.ToUpper(strings.TrimSpace(column))
}

// Record is one data row bound to the file header. Cells missing from a
// short row read as empty strings; cells beyond the header are ignored.
type Record struct {
	Row    int
	header *Header
	cells  []string
}

func NewRecord(header *Header, row int, cells []string) Record {
	return Record{Row: row, header: header, cells: cells}
}

func (r Record) Get(column string) string {
	i, found := r.header.index[normalize(column)]
	if !found || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

// Overflow maps every column not in known to its cell, keyed by the header
// name as written in the file.
func (r Record) Overflow(known []string) map[string]string {
	extra := r.header.Extra(known)
	out := make(map[string]string, len(extra))
	for _, name := range extra {
		out[name] = r.Get(name)
	}
	return out
}

// Blank reports a row whose cells are all empty.
func (r Record) Blank() bool {
	for _, c := range r.cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func (r Record) required(column string, maxLength int) (string, error) {
	v := r.Get(column)
	if v == "" {
		return "", &ValidationError{Row: r.Row, Column: column, Reason: "is required"}
	}
	if maxLength > 0 && utf8.RuneCountInString(v) > maxLength {
		return "", &ValidationError{Row: r.Row, Column: column, Reason: fmt.Sprintf("exceeds %d characters", maxLength)}
	}
	return v, nil
}

// Codec turns records of one kind into typed rows.
type Codec[R any] interface {
	Kind() Kind
	CheckHeader(h *Header) error
	Decode(rec Record) (R, error)
}

func checkRequired(kind Kind, h *Header) error {
	for _, column := range kind.RequiredColumns() {
		if !h.Has(column) {
			return &HeaderError{Kind: kind, Column: column}
		}
	}
	return nil
}

type StudentRow struct {
	RollNo  string `json:"rollNo" validate:"required,max=64"`
	Name    string `json:"name" validate:"required,max=255"`
	Class   string `json:"class" validate:"required,max=32"`
	Section string `json:"section" validate:"required,max=32"`
}

func (r StudentRow) Key() string {
	return r.RollNo
}

type StudentCodec struct{}

func (StudentCodec) Kind() Kind { return KindStudent }

func (StudentCodec) CheckHeader(h *Header) error {
	return checkRequired(KindStudent, h)
}

func (StudentCodec) Decode(rec Record) (StudentRow, error) {
	var (
		row StudentRow
		err error
	)
	if row.RollNo, err = rec.required(ColumnRollNo, MaxRollNoLength); err != nil {
		return row, err
	}
	if row.Name, err = rec.required(ColumnName, MaxNameLength); err != nil {
		return row, err
	}
	if row.Class, err = rec.required(ColumnClass, MaxClassLength); err != nil {
		return row, err
	}
	if row.Section, err = rec.required(ColumnSection, MaxSectionLength); err != nil {
		return row, err
	}
	return row, nil
}

type SubjectRow struct {
	Name     string `json:"name" validate:"required,max=255"`
	Class    string `json:"class" validate:"required,max=32"`
	Section  string `json:"section" validate:"required,max=32"`
	MaxMarks int    `json:"maxMarks" validate:"required,gt=0"`
}

func (r SubjectRow) Key() string {
	return strings.Join([]string{strings.ToUpper(r.Name), r.Class, r.Section}, "/")
}

type SubjectCodec struct{}

func (SubjectCodec) Kind() Kind { return KindSubject }

func (SubjectCodec) CheckHeader(h *Header) error {
	return checkRequired(KindSubject, h)
}

func (SubjectCodec) Decode(rec Record) (SubjectRow, error) {
	var (
		row SubjectRow
		err error
	)
	if row.Name, err = rec.required(ColumnName, MaxNameLength); err != nil {
		return row, err
	}
	if row.Class, err = rec.required(ColumnClass, MaxClassLength); err != nil {
		return row, err
	}
	if row.Section, err = rec.required(ColumnSection, MaxSectionLength); err != nil {
		return row, err
	}
	raw, err := rec.required(ColumnMaxMarks, 0)
	if err != nil {
		return row, err
	}
	maxMarks, err := strconv.Atoi(raw)
	if err != nil || maxMarks <= 0 {
		return row, &ValidationError{Row: rec.Row, Column: ColumnMaxMarks, Reason: fmt.Sprintf("must be a positive integer, got %q", raw)}
	}
	row.MaxMarks = maxMarks
	return row, nil
}

type MarkRow struct {
	RollNo string             `json:"rollNo" validate:"required,max=64"`
	Exam   string             `json:"examName" validate:"required,max=255"`
	Scores map[string]float64 `json:"marks" validate:"dive,keys,required,endkeys,gte=0"`
}

func (r MarkRow) Key() string {
	return r.RollNo + "/" + r.Exam
}

type MarkCodec struct{}

func (MarkCodec) Kind() Kind { return KindMark }

func (MarkCodec) CheckHeader(h *Header) error {
	if err := checkRequired(KindMark, h); err != nil {
		return err
	}
	if len(h.Extra(KindMark.RequiredColumns())) == 0 {
		return &HeaderError{Kind: KindMark, Reason: "at least one subject mark is required"}
	}
	return nil
}

// Decode keeps every non-required column as a subject score. Empty score
// cells are left out of the map.
func (MarkCodec) Decode(rec Record) (MarkRow, error) {
	var (
		row MarkRow
		err error
	)
	if row.RollNo, err = rec.required(ColumnRollNo, MaxRollNoLength); err != nil {
		return row, err
	}
	if row.Exam, err = rec.required(ColumnExam, MaxExamLength); err != nil {
		return row, err
	}

	overflow := rec.Overflow(KindMark.RequiredColumns())
	row.Scores = make(map[string]float64, len(overflow))
	for _, subject := range rec.header.Extra(KindMark.RequiredColumns()) {
		raw := overflow[subject]
		if raw == "" {
			continue
		}
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil || score < 0 || math.IsNaN(score) || math.IsInf(score, 0) {
			return row, &ValidationError{Row: rec.Row, Column: subject, Reason: fmt.Sprintf("must be a non-negative number, got %q", raw)}
		}
		row.Scores[subject] = score
	}
	return row, nil
}
