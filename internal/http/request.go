package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/shift-compliance/internal/application"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				return true
			}
			field = field.Elem()
		}
		return field.Kind() != reflect.String || strings.TrimSpace(field.String()) != ""
	})
	return v
}

// decodeJSON reads a single JSON object into dst and runs struct validation.
// Decode failures return errBadRequestBody; validation failures return a
// *application.ValidationError.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequestBody, err)
	}
	return validateStruct(dst)
}

func validateStruct(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &application.ValidationError{FieldErrors: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.FieldErrors[fe.Field()] = describeFieldError(fe)
	}
	return out
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "email":
		return "must be an email address"
	default:
		return "is invalid"
	}
}

// parseInstant accepts RFC 3339 instants, or a local "2006-01-02T15:04"
// wall time interpreted in loc.
func parseInstant(field, value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &application.ValidationError{FieldErrors: map[string]string{
		field: "must be an ISO-8601 instant",
	}}
}

func parseOptionalInstant(field string, value *string, loc *time.Location) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := parseInstant(field, *value, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func pageFromQuery(q url.Values) (application.PageRequest, error) {
	var page application.PageRequest
	bad := &application.ValidationError{}
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			bad.FieldErrors = map[string]string{"page": "must be a positive integer"}
		}
		page.Page = n
	}
	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			if bad.FieldErrors == nil {
				bad.FieldErrors = map[string]string{}
			}
			bad.FieldErrors["page_size"] = "must be a positive integer"
		}
		page.PageSize = n
	}
	if bad.HasErrors() {
		return application.PageRequest{}, bad
	}
	return page, nil
}

func boolQuery(q url.Values, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(q.Get(key)))
	return err == nil && v
}

// respondDecodeError writes a 400 for body errors and the mapped status otherwise.
func (r responder) respondDecodeError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, errBadRequestBody) {
		r.writeError(req.Context(), w, http.StatusBadRequest, err)
		return
	}
	r.handleServiceError(req.Context(), w, err)
}
