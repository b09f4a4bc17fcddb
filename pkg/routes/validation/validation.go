// Package validation binds request payloads and checks their validate tags.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// FieldError describes one rejected field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Bind decodes the request into req and validates it. Failures are 400s carrying the
// rejected fields in the error's meta.
func Bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return Struct(req)
}

// Struct validates req against its validate tags.
func Struct(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	fields := make([]FieldError, len(validationErrors))
	messages := make([]string, len(validationErrors))
	for i, fe := range validationErrors {
		fields[i] = FieldError{Field: fe.Field(), Message: describe(fe)}
		messages[i] = fields[i].Field + ": " + fields[i].Message
	}
	return httperror.NewHTTPError(http.StatusBadRequest, strings.Join(messages, "; ")).
		AddMetaValue("errors", fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
