package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	authmw "github.com/TalJa1/progresso-web-sub000/internal/auth/middleware"
	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/config"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
	"github.com/TalJa1/progresso-web-sub000/internal/rbac"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string           `json:"access_token"`
	User        authmw.Principal `json:"user"`
}

// LoginHandler is the local (offline / dev) sign-in. The configured admin
// authenticates against a bcrypt hash; anyone else signs in as a student
// with username == password. When users is set, a username matching a
// backend email adopts that account's id and role.
func LoginHandler(a *authmw.AuthService, users UserDirectory, cfg config.Config, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		var p authmw.Principal
		switch {
		case cfg.AdminUser != "" && req.Username == cfg.AdminUser:
			if cfg.AdminPassHash == "" || bcrypt.CompareHashAndPassword([]byte(cfg.AdminPassHash), []byte(req.Password)) != nil {
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			p = authmw.Principal{UserID: "admin", Role: rbac.RoleAdmin, Name: cfg.AdminUser}
		case req.Username == req.Password:
			p = authmw.Principal{UserID: "local|" + req.Username, Role: rbac.RoleStudent, Name: req.Username}
			if users != nil && strings.Contains(req.Username, "@") {
				u, err := users.GetUserByEmail(r.Context(), req.Username)
				switch {
				case err == nil:
					p.UserID = u.ID.String()
					p.Email = u.Email
					p.Name = u.Name
					p.Picture = u.AvatarURL
					if u.Role != "" && u.Role != rbac.RoleAdmin {
						p.Role = u.Role
					}
				case !errors.Is(err, backend.ErrNotFound):
					log.Warn("local login: backend user lookup failed", "username", req.Username, err)
				}
			}
		default:
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		tok, err := a.IssueJWT(p)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loginResponse{AccessToken: tok, User: p})
	}
}
