package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/leitbox/internal/domain"
)

// MaxJSONBodyBytes bounds request bodies decoded by DecodeJSON.
const MaxJSONBodyBytes = 1 << 20

// Global validator instance for reuse. Field errors are reported by JSON name.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// DecodeJSON decodes the request body into v. Unknown fields, trailing data
// and oversized bodies are rejected with a *domain.ValidationError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxJSONBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return domain.NewValidationError("body", "is too large")
		case errors.Is(err, io.EOF):
			return domain.NewValidationError("body", "is required")
		default:
			return domain.NewValidationError("body", fmt.Sprintf("is not valid JSON: %v", err))
		}
	}
	if dec.More() {
		return domain.NewValidationError("body", "must contain a single JSON value")
	}
	return nil
}

// ValidateRequest validates v with its struct tags and converts the first
// violation into a *domain.ValidationError.
func ValidateRequest(v any) error {
	if err := validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return domain.NewValidationError(fe.Field(), validationMessage(fe))
		}
		return domain.NewValidationError("", err.Error())
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "is too short"
	case "max":
		return "is too long"
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "is invalid"
	}
}
