package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/trestle/internal/crm"
	"github.com/hyperengineering/trestle/internal/store"
	"github.com/hyperengineering/trestle/internal/syncer"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusUnauthorized: {
		typeURI: "https://trestle.dev/errors/unauthorized",
		title:   "Unauthorized",
	},
	http.StatusBadRequest: {
		typeURI: "https://trestle.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://trestle.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusConflict: {
		typeURI: "https://trestle.dev/errors/conflict",
		title:   "Conflict",
	},
	http.StatusBadGateway: {
		typeURI: "https://trestle.dev/errors/upstream-failure",
		title:   "Upstream Failure",
	},
	http.StatusInternalServerError: {
		typeURI: "https://trestle.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://trestle.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapSyncError converts domain errors to Problem Details responses.
func MapSyncError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *crm.AuthError
	var transportErr *crm.TransportError

	switch {
	case errors.Is(err, syncer.ErrAlreadyRunning):
		WriteProblem(w, r, http.StatusConflict, "A sync for this entity type is already running")
	case errors.Is(err, store.ErrUnknownEntity):
		WriteProblem(w, r, http.StatusBadRequest, "Unknown entity type")
	case errors.Is(err, crm.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Media object not found")
	case errors.As(err, &authErr):
		WriteProblem(w, r, http.StatusBadGateway, "External system rejected our credentials")
	case errors.As(err, &transportErr):
		WriteProblem(w, r, http.StatusBadGateway, "External system unreachable")
	default:
		// Never expose internal error details to client
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
