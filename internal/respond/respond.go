// Package respond writes JSON responses and decodes validated request
// bodies for the HTTP handlers.
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	apperrors "github.com/alexjbarnes/llm-gateway/internal/errors"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and a message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes err as an error body. Errors without an application
// error in their chain become a generic 500; server-side details are
// logged but never sent.
func Error(w http.ResponseWriter, logger *slog.Logger, err error) {
	e := apperrors.As(err)
	if e == nil {
		logger.Error("unhandled error", slog.String("error", err.Error()))
		JSON(w, http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Code:    apperrors.ErrStore.Code,
			Type:    apperrors.TypeInternal,
			Message: "internal server error",
		}})

		return
	}

	msg := e.Message
	if e.Status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("code", e.Code),
			slog.String("error", err.Error()),
		)
	} else {
		msg = err.Error()
	}

	JSON(w, e.Status, ErrorBody{Error: ErrorDetail{
		Code:    e.Code,
		Type:    e.Type,
		Message: msg,
	}})
}

// Decode reads a JSON body into v and runs struct validation. Failures
// wrap ErrInvalidRequest.
func Decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", apperrors.ErrInvalidRequest)
		}

		return fmt.Errorf("%w: malformed JSON body: %w", apperrors.ErrInvalidRequest, err)
	}

	return Validate(v)
}

// Validate runs struct tag validation on v.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidRequest, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}

	return fmt.Errorf("%w: %s", apperrors.ErrInvalidRequest, strings.Join(fields, ", "))
}
