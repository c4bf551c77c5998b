package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	engerrors "adde/internal/errors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(fieldName)
}

// fieldName reports fields by their JSON name, then their config key, so
// messages match what the caller wrote.
func fieldName(f reflect.StructField) string {
	for _, key := range []string{"json", "mapstructure"} {
		name := strings.Split(f.Tag.Get(key), ",")[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// DecodeParams strictly decodes a tool payload into v and validates it. An empty
// payload decodes as an empty object.
func DecodeParams(tool string, payload []byte, v any) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Invalid JSON payload for %s", tool),
			describeDecodeError(err),
			"Pass a single JSON object with the documented parameter names",
			fmt.Errorf("invalid payload: %w", err),
		)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return engerrors.NewInvalidArgumentError(
			fmt.Sprintf("Invalid JSON payload for %s", tool),
			"payload must contain exactly one JSON object",
			"",
			nil,
		)
	}

	if err := Validate(v); err != nil {
		var engineErr *engerrors.EngineError
		if errors.As(err, &engineErr) {
			engineErr.Context = fmt.Sprintf("Invalid parameters for %s", tool)
		}
		return err
	}
	return nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field '%s' must be of type %s", typeErr.Field, typeErr.Type)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("malformed JSON at offset %d: %v", syntaxErr.Offset, syntaxErr)
	}
	return err.Error()
}

// Validate runs struct validation and converts failures into an InvalidArgument
// error with user-friendly messages.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		msg := formatValidationError(err).Error()
		return engerrors.NewInvalidArgumentError("Validation failed", msg, "", errors.New(msg))
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var errorMessages []string
		for _, e := range validationErrors {
			errorMessages = append(errorMessages, formatFieldError(e))
		}

		if len(errorMessages) == 1 {
			return fmt.Errorf("validation error: %s", errorMessages[0])
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errorMessages, "; "))
	}
	return fmt.Errorf("validation failed: %w", err)
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", field)
	case "gte", "min":
		return fmt.Sprintf("field '%s' must be at least %s", field, e.Param())
	case "lte", "max":
		return fmt.Sprintf("field '%s' must be at most %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("field '%s' must be greater than %s", field, e.Param())
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, tag)
	}
}
