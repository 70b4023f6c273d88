// Package handlers holds the HTTP surface for wallets, payments, attendance,
// admin actions and gateway webhooks, plus the JSON helpers every handler uses.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/iayos/backend/internal/apperr"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		d, ok := v.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Required  string `json:"required,omitempty"`
	Available string `json:"available,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusOf maps an error kind onto an HTTP status.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindInvalidState, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.KindExternalTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindExternalFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteError writes err as an ErrorBody. Unkinded and invariant errors are logged and masked.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := StatusOf(err)
	body := ErrorBody{Error: err.Error(), Kind: string(apperr.KindOf(err))}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindInsufficientFunds && !ae.Required.IsZero() {
		body.Required = ae.Required.StringFixed(2)
		body.Available = ae.Available.StringFixed(2)
	}
	if status == http.StatusInternalServerError {
		if log == nil {
			log = slog.Default()
		}
		log.Error("request failed", "error", err)
		body.Error = "internal error"
	}
	WriteJSON(w, status, body)
}

// Decode reads a JSON body into dst and runs its validate tags. An empty body decodes as {}.
func Decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.InvalidInput("invalid JSON: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return apperr.InvalidInput("%s", strings.Join(fields, "; "))
		}
		return apperr.InvalidInput("%v", err)
	}
	return nil
}

// PathID parses the named mux path variable as a UUID.
func PathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("invalid %s", name)
	}
	return id, nil
}
