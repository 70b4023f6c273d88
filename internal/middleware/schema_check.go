package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/iayos/backend/internal/validate"
)

const maxBodyBytes = 1 << 20

// BodyChecker validates a raw request body against a named schema.
type BodyChecker interface {
	Check(name string, body []byte) error
}

// SchemaCheck reads the body, validates it against schema, then replaces r.Body so the
// handler can decode it again.
func SchemaCheck(v BodyChecker, schema string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			if len(bodyBytes) > maxBodyBytes {
				http.Error(w, `{"error":"body too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			if err := v.Check(schema, bodyBytes); err != nil {
				if !errors.Is(err, validate.ErrValidation) {
					http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "kind": "invalid_input"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
