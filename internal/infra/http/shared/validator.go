package shared

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with an instance-key rule and
// JSON field names in error messages.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	validate := validator.New()
	validate.RegisterValidation("instance_key", validateInstanceKey)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: validate}
}

// ValidateStruct validates a request DTO and reports the failed fields.
func (v *Validator) ValidateStruct(s interface{}) []ValidationError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Field: "request", Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		out = append(out, ValidationError{
			Field:   fieldError.Field(),
			Message: errorMessage(fieldError),
		})
	}
	return out
}

func errorMessage(fieldError validator.FieldError) string {
	field := fieldError.Field()
	param := fieldError.Param()

	switch fieldError.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries or characters", field, param)
	case "max":
		return fmt.Sprintf("%s must have at most %s entries or characters", field, param)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "instance_key":
		return fmt.Sprintf("%s contains invalid characters (only alphanumeric, dash and underscore allowed)", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// validateInstanceKey accepts alphanumerics, dash and underscore.
func validateInstanceKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()
	if key == "" {
		return false
	}

	for _, char := range key {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_') {
			return false
		}
	}
	return true
}
