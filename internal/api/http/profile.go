package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	authmw "github.com/TalJa1/progresso-web-sub000/internal/auth/middleware"
	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
	"github.com/TalJa1/progresso-web-sub000/internal/rbac"
)

type Profiles interface {
	GetUser(ctx context.Context, id string) (backend.User, error)
	ListSubmissions(ctx context.Context, userID string) ([]backend.Submission, error)
}

func MountProfile(r chi.Router, p Profiles, log logger.Logger) {
	r.With(rbac.Require("profile:view")).Get("/me", MeHandler(p, log))
	r.With(rbac.RequireAny("submission:view-own", "submission:view-all")).Get("/me/submissions", MySubmissionsHandler(p, log))
}

type profile struct {
	authmw.Principal
	Permissions []string      `json:"permissions"`
	User        *backend.User `json:"user,omitempty"`
}

// MeHandler returns the signed-in principal, enriched with the backend user
// record when one exists (local dev accounts have none).
func MeHandler(p Profiles, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr, ok := principal(w, r)
		if !ok {
			return
		}
		out := profile{Principal: pr, Permissions: rbac.RolePermissions[pr.Role]}
		if out.Permissions == nil {
			out.Permissions = []string{}
		}
		u, err := p.GetUser(r.Context(), pr.UserID)
		switch {
		case err == nil:
			out.User = &u
		case errors.Is(err, backend.ErrNotFound):
		default:
			log.Warn("profile: backend user lookup failed", "user_id", pr.UserID, err)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func MySubmissionsHandler(p Profiles, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pr, ok := principal(w, r)
		if !ok {
			return
		}
		subs, err := p.ListSubmissions(r.Context(), pr.UserID)
		if err != nil {
			failLoad(w, log, "submissions", err)
			return
		}
		if subs == nil {
			subs = []backend.Submission{}
		}
		writeJSON(w, http.StatusOK, subs)
	}
}
