// Package handlers implements the HTTP request handlers for the volume
// driver API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/edgelun/edgelun/internal/backend"
	drverr "github.com/edgelun/edgelun/internal/errors"
)

// volumeNameRegex validates volume and snapshot display names: 1-128
// characters drawn from letters, digits, dot, dash, underscore, and colon.
var volumeNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

// validName reports whether name is an acceptable volume or snapshot name.
func validName(name string) bool {
	return volumeNameRegex.MatchString(name)
}

// errorBody is the JSON error envelope returned by every handler.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing JSON response", "error", err)
	}
}

// writeError maps a driver error to its HTTP status and writes the JSON
// error envelope. Raw backend errors (surfaced as-is by extend/snapshot
// operations) map to BackendUnreachable; anything else is an internal error.
func writeError(w http.ResponseWriter, err error) {
	var de *drverr.DriverError
	if !errors.As(err, &de) {
		var be *backend.Error
		if errors.As(err, &be) {
			de = drverr.ErrBackendUnreachable.Wrap(be)
		} else {
			de = drverr.ErrInternalError.Wrap(err)
		}
	}

	var body errorBody
	body.Error.Code = de.Code
	body.Error.Message = de.Message
	writeJSON(w, de.HTTPStatus, body)
}

// readJSON decodes the request body into v, rejecting unknown fields and
// oversized bodies. On failure it writes an InvalidRequest response and
// returns false.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, drverr.ErrInvalidRequest.WithMessage("decoding request body: %v", err))
		return false
	}
	return true
}
