package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds request bodies. Sync requests carry full scan results,
// so the limit is generous.
const maxBodyBytes = 16 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeRequest reads a JSON body into dst and validates its tags. On failure
// the response has already been written and false is returned.
func decodeRequest(w http.ResponseWriter, req *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid request",
			"fields": validationMessages(err),
		})
		return false
	}
	return true
}

// validationMessages maps field paths to user-facing messages.
func validationMessages(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["request"] = "invalid request"
		return out
	}
	for _, e := range verrs {
		field := fieldPath(e.Namespace())
		switch e.Tag() {
		case "required":
			out[field] = "is required"
		case "min", "gte":
			out[field] = fmt.Sprintf("must be at least %s", e.Param())
		case "oneof":
			out[field] = fmt.Sprintf("must be one of: %s", e.Param())
		default:
			out[field] = "is invalid"
		}
	}
	return out
}

// fieldPath drops the request type from a validator namespace, so
// "syncRequest.results[0].path" becomes "results[0].path".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
