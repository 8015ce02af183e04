package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
	"github.com/abhayyyy25/breast-cancer-detection/internal/obs"
)

// Kinds reported for failures outside the auth taxonomy.
const (
	kindInvalidInput = "INVALID_INPUT"
	kindNotFound     = "NOT_FOUND"
	kindConflict     = "CONFLICT"
	kindInternal     = "INTERNAL"
)

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	writeJSON(w, code, errorResponse{
		Error:     msg,
		Kind:      kind,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusBadRequest, kindInvalidInput, msg)
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch kind := auth.KindOf(err); kind {
	case auth.KindInvalidCredentials, auth.KindTokenExpired, auth.KindTokenMalformed, auth.KindTokenWrongKind:
		return http.StatusUnauthorized, string(kind)
	case auth.KindAccountLocked:
		return http.StatusLocked, string(kind)
	case auth.KindAccountInactive, auth.KindAccountDeleted,
		auth.KindRoleDenied, auth.KindPermissionDenied,
		auth.KindTenantDenied, auth.KindTenantSuspended:
		return http.StatusForbidden, string(kind)
	}
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, kindInvalidInput
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, kindNotFound
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict, kindConflict
	}
	return http.StatusInternalServerError, kindInternal
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		obs.Logger().Error().Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		msg = "internal error"
	}
	writeError(w, r, code, kind, msg)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, kindInvalidInput, "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, kindNotFound, "resource not found")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(name, raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New(name + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}
