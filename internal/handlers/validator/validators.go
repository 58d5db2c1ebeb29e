package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ValidationRule struct {
	Rule func(v *validator.Validate)
}

// Validator is a wrapper around the actual validator
// It sets up the validator and extract the rule error message from the underlying error
type Validator struct {
	validator *validator.Validate
	rules     []ValidationRule
}

func NewValidator() *Validator {
	v := validator.New()
	return &Validator{validator: v}
}

func (v *Validator) Register(rules ...ValidationRule) {
	for _, validationRule := range rules {
		validationRule.Rule(v.validator)
	}
	v.rules = append(v.rules, rules...)
}

// Struct validates s and reports the failed fields as one *ErrInvalidField.
func (v *Validator) Struct(s any) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	fieldErr := NewErrInvalidField("%s", strings.Join(msgs, "; "))
	fieldErr.Field = verrs[0].Field()
	fieldErr.Rule = verrs[0].Tag()
	if p := verrs[0].Param(); p != "" {
		fieldErr.Rule += "=" + p
	}
	return fieldErr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "upload_kind":
		return fmt.Sprintf("%s %q is not an upload type", fe.Namespace(), fe.Value())
	case "storage_ref":
		return fmt.Sprintf("%s %q is not a storage reference", fe.Namespace(), fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
	}
}
