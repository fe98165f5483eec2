package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/purposefullive/coaching-platform/libs/apperr"
)

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads a single JSON object, rejecting unknown fields and
// trailing data. Failures come back as BAD_REQUEST.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.New(apperr.BadRequest, "request body too large")
		}
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.BadRequest, "request body is empty")
		}
		return apperr.Wrap(apperr.BadRequest, "invalid json body", err)
	}
	if dec.More() {
		return apperr.New(apperr.BadRequest, "request body must contain a single object")
	}
	return nil
}
