package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/datconv/pkg/dat"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Field   string `json:"field,omitempty"`
	Offset  *int   `json:"offset,omitempty"`
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{"error": APIError{Message: msg, Type: errType}})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

// writeCodecError maps codec failures on client input to 422 with the
// offending field, and anything else to 500.
func writeCodecError(c *echo.Context, err error) error {
	body := APIError{Message: err.Error(), Type: "decode_error"}
	var fe *dat.FieldError
	if errors.As(err, &fe) {
		body.Field = fe.Field
		body.Offset = &fe.Offset
	}
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, dat.ErrTruncated):
		body.Type = "truncated_error"
	case errors.Is(err, dat.ErrUnknownSchemaVersion), errors.Is(err, dat.ErrInvalidMagic):
		body.Type = "format_error"
	case errors.Is(err, dat.ErrMissingField), errors.Is(err, dat.ErrInvalidValue),
		errors.Is(err, dat.ErrChannelMismatch), errors.Is(err, dat.ErrFieldOverlap),
		errors.Is(err, dat.ErrUnresolvedDependency):
	default:
		status = http.StatusInternalServerError
		body.Type = "server_error"
	}
	return c.JSON(status, map[string]any{"error": body})
}
