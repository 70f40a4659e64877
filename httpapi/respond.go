package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/lebenslotse/lifeplan/apierr"
)

// maxRequestBodySize limits request body sizes.
const maxRequestBodySize = 1 << 20 // 1 MB

// errorEnvelope is the uniform error response body.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a service error onto the envelope. Anything that is not an
// apierr.Error is an unexpected internal failure.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if apiErr, ok := apierr.From(err); ok {
		writeJSON(w, apiErr.Status, errorEnvelope{Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		}})
		return
	}
	logger.Error("Unhandled API error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
		Code:    apierr.CodePersistence,
		Message: "Internal error",
	}})
}

// decodeBody parses and validates a JSON request body. Failures map to
// 422 REQUEST_VALIDATION_ERROR.
func decodeBody(r *http.Request, validate *validator.Validate, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxRequestBodySize)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	decoder := json.NewDecoder(body)
	if err := decoder.Decode(dst); err != nil {
		return apierr.RequestValidation([]string{"body: " + err.Error()})
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			details := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				details = append(details, fmt.Sprintf("%s: failed '%s' validation", fe.Field(), fe.Tag()))
			}
			return apierr.RequestValidation(details)
		}
		return apierr.RequestValidation([]string{err.Error()})
	}
	return nil
}
