package validator

import (
	"fmt"
)

type ErrInvalidField struct {
	error
	// Field and Rule name the first failed field and its tag, when known.
	Field string
	Rule  string
}

func NewErrInvalidField(format string, args ...any) *ErrInvalidField {
	return &ErrInvalidField{error: fmt.Errorf(format, args...)}
}
