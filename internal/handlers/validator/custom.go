package validator

import (
	"github.com/go-playground/validator/v10"
	"github.com/thoas/go-funk"

	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/storage"
)

func uploadKindValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	accepted := make([]string, 0, 2*len(batch.Kinds()))
	for _, k := range batch.Kinds() {
		accepted = append(accepted, k.String(), k.Segment())
	}
	return funk.ContainsString(accepted, val)
}

func storageRefValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, err := storage.ParseRef(val)
	return err == nil
}
