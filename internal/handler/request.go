package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/oapi-codegen/runtime"

	"github.com/pkordes/tripcrew/internal/domain"
	"github.com/pkordes/tripcrew/internal/middleware"
)

// pathUUID binds the named chi path parameter as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid format for parameter %s: %w", name, err)
	}
	return id, nil
}

// pathUUIDs binds several path parameters in order, writing a 400 and
// returning false on the first failure.
func pathUUIDs(w http.ResponseWriter, r *http.Request, names ...string) ([]uuid.UUID, bool) {
	ids := make([]uuid.UUID, len(names))
	for i, name := range names {
		id, err := pathUUID(r, name)
		if err != nil {
			requestError(w, err.Error())
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}

// caller returns the identity stored by the identity middleware. Routes
// mounted outside that middleware never call it.
func caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: ErrorDetail{
			Code:    "unauthorized",
			Message: "missing caller identity",
		}})
	}
	return id, ok
}

// decodeBody decodes a JSON request body into dst. It writes 413 when the
// body size middleware cut the read short and 400 for anything malformed.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: ErrorDetail{
			Code:    "request_too_large",
			Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		}})
		return false
	}
	requestError(w, "invalid JSON body: "+err.Error())
	return false
}

// normalizePhone returns raw in E.164 form. Numbers without a country code
// are parsed in region.
func normalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: %q is not a valid phone number", domain.ErrValidation, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// normalizePhones normalises every number, keeping request order.
// Duplicates are kept so the service can report them as skipped.
// All invalid inputs are reported together.
func normalizePhones(raw []string, region string) ([]string, error) {
	out := make([]string, 0, len(raw))
	var invalid []string
	for _, p := range raw {
		e164, err := normalizePhone(p, region)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", p))
			continue
		}
		out = append(out, e164)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: invalid phone numbers: %s", domain.ErrValidation, strings.Join(invalid, ", "))
	}
	return out, nil
}
