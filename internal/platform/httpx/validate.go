package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/counselhub/counselhub/internal/shared"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// ValidationError carries per field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %d field(s)", len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return shared.ErrValidation }

// NewFieldError builds a ValidationError for a single field.
func NewFieldError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Validate runs struct validation and flattens failures into a ValidationError.
func Validate(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return "필수 입력 항목입니다."
	case "email":
		return "이메일 형식이 올바르지 않습니다."
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s자 이상 입력해 주세요.", fe.Param())
		}
		return fmt.Sprintf("%s 이상이어야 합니다.", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s자 이하로 입력해 주세요.", fe.Param())
		}
		return fmt.Sprintf("%s 이하이어야 합니다.", fe.Param())
	case "gte":
		return fmt.Sprintf("%s 이상이어야 합니다.", fe.Param())
	case "lte":
		return fmt.Sprintf("%s 이하이어야 합니다.", fe.Param())
	case "gt":
		return fmt.Sprintf("%s보다 커야 합니다.", fe.Param())
	case "oneof":
		return fmt.Sprintf("허용된 값이 아닙니다 (%s).", fe.Param())
	case "len":
		return fmt.Sprintf("길이는 %s이어야 합니다.", fe.Param())
	case "numeric":
		return "숫자만 입력할 수 있습니다."
	case "datetime":
		return fmt.Sprintf("날짜 형식이 올바르지 않습니다 (%s).", fe.Param())
	}
	return "입력값이 올바르지 않습니다."
}
