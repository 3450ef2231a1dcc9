package http

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	authmw "github.com/TalJa1/progresso-web-sub000/internal/auth/middleware"
	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/exam"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v and validates it when it carries
// validate tags. It writes the 400 itself and reports whether to go on.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(v); err != nil {
		if fields, ok := fieldErrors(err); ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": fields})
			return false
		}
	}
	return true
}

// principal pulls the signed-in user; JWTMiddleware guarantees it on
// protected routes, so a miss is a 401.
func principal(w http.ResponseWriter, r *http.Request) (authmw.Principal, bool) {
	p, ok := authmw.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return p, ok
}

// fail maps domain errors to statuses. Backend failures other than 404 are
// reported as 502 with a "failed to load ..." message.
func fail(w http.ResponseWriter, log logger.Logger, what string, err error) {
	var le *exam.LoadError
	switch {
	case errors.Is(err, exam.ErrNotFound), errors.Is(err, backend.ErrNotFound):
		http.Error(w, what+" not found", http.StatusNotFound)
	case errors.Is(err, exam.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, exam.ErrSessionSubmitted):
		http.Error(w, "session already submitted", http.StatusConflict)
	case errors.Is(err, exam.ErrSelectionKind):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, exam.ErrClosed):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	case errors.As(err, &le):
		log.Error("backend load failed", "what", le.What, err)
		http.Error(w, "failed to load "+le.What, http.StatusBadGateway)
	default:
		log.Error("request failed", "what", what, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// failLoad is fail for plain backend reads: anything but a 404 is a 502.
func failLoad(w http.ResponseWriter, log logger.Logger, what string, err error) {
	if errors.Is(err, backend.ErrNotFound) {
		http.Error(w, what+" not found", http.StatusNotFound)
		return
	}
	log.Error("backend request failed", "what", what, err)
	http.Error(w, "failed to load "+what, http.StatusBadGateway)
}
