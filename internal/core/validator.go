package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"carepath/internal/types"
)

// Validator wraps go-playground/validator and reports failures as AppErrors
// named by the JSON field, so clients see the same names they sent.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v}
}

// ValidateStruct returns nil or an AppError describing the first failing
// field.
func (val *Validator) ValidateStruct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidPayload, "request failed validation", err)
	}

	fe := verrs[0]
	field := fe.Field()
	details := map[string]any{"field": field, "rule": fe.Tag()}

	switch fe.Tag() {
	case "required":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			field+" is required", nil, details)
	case "uuid", "uuid4":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidSubjectID,
			field+" must be a UUID", nil, details)
	case "oneof":
		if field == "source" {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidSource,
				"source must be one of "+strings.ReplaceAll(fe.Param(), " ", ", "), nil, details)
		}
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPayload,
		field+" failed the "+fe.Tag()+" rule", nil, details)
}
