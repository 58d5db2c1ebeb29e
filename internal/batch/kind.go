package batch

import (
	"fmt"
	"strings"
)

// Kind is the category of an uploaded file. It decides the codec, the
// ingestion endpoint and the records written.
type Kind string

const (
	KindStudent Kind = "student-upload"
	KindSubject Kind = "subject-upload"
	KindMark    Kind = "mark-upload"
)

const (
	ColumnRollNo   = "ROLL NO"
	ColumnName     = "NAME"
	ColumnClass    = "CLASS"
	ColumnSection  = "SECTION"
	ColumnMaxMarks = "MAXIMUM MARKS"
	ColumnExam     = "EXAM"
)

func Kinds() []Kind {
	return []Kind{KindStudent, KindSubject, KindMark}
}

// ParseKind accepts a kind or its URL segment.
func ParseKind(s string) (Kind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if v == string(k) || v == k.Segment() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown upload kind %q", s)
}

func (k Kind) Segment() string {
	return strings.TrimSuffix(string(k), "-upload")
}

func (k Kind) RequiredColumns() []string {
	switch k {
	case KindStudent:
		return []string{ColumnRollNo, ColumnName, ColumnClass, ColumnSection}
	case KindSubject:
		return []string{ColumnName, ColumnClass, ColumnSection, ColumnMaxMarks}
	case KindMark:
		return []string{ColumnRollNo, ColumnExam}
	default:
		return nil
	}
}

// Stage names the processing context recorded with a failure.
func (k Kind) Stage(step string) string {
	return fmt.Sprintf("%s_%s", k.Segment(), step)
}

func (k Kind) String() string {
	return string(k)
}
