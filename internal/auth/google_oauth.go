// internal/auth/google_oauth.go
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	authmw "github.com/TalJa1/progresso-web-sub000/internal/auth/middleware"
	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/config"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
	"github.com/TalJa1/progresso-web-sub000/internal/rbac"
)

const (
	stateCookie    = "progresso_oauth_state"
	redirectCookie = "progresso_post_auth_redirect"

	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// UserDirectory resolves signed-in identities to backend users.
type UserDirectory interface {
	GetUserByEmail(ctx context.Context, email string) (backend.User, error)
	CreateUser(ctx context.Context, u backend.User) (backend.User, error)
}

type GoogleAuth struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client

	svc       *authmw.AuthService
	users     UserDirectory
	publicURL string
	allowedHD string
	log       logger.Logger
}

func NewGoogleAuth(cfg config.Config, svc *authmw.AuthService, users UserDirectory, log logger.Logger) *GoogleAuth {
	return &GoogleAuth{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURI,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
		svc:         svc,
		users:       users,
		publicURL:   cfg.PublicURL,
		allowedHD:   cfg.GoogleAllowedHD,
		log:         log,
	}
}

type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	HD            string `json:"hd"`
}

// LoginHandler serves /auth/google/login: remember where to go afterwards,
// set a state cookie and bounce to Google.
func (g *GoogleAuth) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next := r.URL.Query().Get("redirect")
		if next == "" && r.Referer() != "" {
			next = r.Referer()
		}
		if next == "" {
			next = g.home()
		}
		if !g.sameOrigin(next) {
			http.Error(w, "bad redirect", http.StatusBadRequest)
			return
		}

		state := uuid.NewString()
		g.setCookie(w, stateCookie, state, 10*time.Minute)
		g.setCookie(w, redirectCookie, url.QueryEscape(next), 10*time.Minute)

		opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("include_granted_scopes", "true")}
		if g.allowedHD != "" {
			opts = append(opts, oauth2.SetAuthURLParam("hd", g.allowedHD))
		}
		http.Redirect(w, r, g.oauth.AuthCodeURL(state, opts...), http.StatusFound)
	}
}

// CallbackHandler serves /auth/google/callback: check state, exchange the
// code, resolve the backend user and hand the SPA an access token.
func (g *GoogleAuth) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		c, err := r.Cookie(stateCookie)
		if state == "" || err != nil || c.Value != state {
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if g.httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
		}
		tok, err := g.oauth.Exchange(ctx, code)
		if err != nil {
			g.log.Warn("google token exchange failed", err)
			http.Error(w, "token exchange error", http.StatusBadGateway)
			return
		}
		gu, err := g.fetchUser(ctx, tok)
		if err != nil {
			g.log.Warn("google userinfo failed", err)
			http.Error(w, "userinfo error", http.StatusBadGateway)
			return
		}
		if gu.Email == "" || !gu.EmailVerified {
			http.Error(w, "email not verified", http.StatusUnauthorized)
			return
		}
		if g.allowedHD != "" && !strings.EqualFold(gu.HD, g.allowedHD) {
			http.Error(w, "unauthorized domain", http.StatusUnauthorized)
			return
		}

		p, err := g.resolve(r.Context(), gu)
		if err != nil {
			g.log.Error("resolve backend user", "email", gu.Email, err)
			http.Error(w, "failed to load user", http.StatusBadGateway)
			return
		}
		access, err := g.svc.IssueJWT(p)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		g.setCookie(w, authmw.CookieName, access, g.svc.TTL())

		target := ""
		if c, err := r.Cookie(redirectCookie); err == nil {
			if raw, _ := url.QueryUnescape(c.Value); raw != "" {
				target = raw
			}
		}
		if target == "" || !g.sameOrigin(target) {
			target = g.home()
		}
		g.clearCookie(w, stateCookie)
		g.clearCookie(w, redirectCookie)

		u, _ := url.Parse(target)
		q := u.Query()
		q.Set("access_token", access)
		u.RawQuery = q.Encode()
		g.log.Info("google sign-in", "user_id", p.UserID, "role", p.Role)
		http.Redirect(w, r, u.String(), http.StatusFound)
	}
}

func (g *GoogleAuth) fetchUser(ctx context.Context, tok *oauth2.Token) (googleUser, error) {
	res, err := g.oauth.Client(ctx, tok).Get(g.userInfoURL)
	if err != nil {
		return googleUser{}, errors.Wrap(err, "userinfo request")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return googleUser{}, errors.Errorf("userinfo status %d", res.StatusCode)
	}
	var gu googleUser
	if err := json.NewDecoder(res.Body).Decode(&gu); err != nil {
		return googleUser{}, errors.Wrap(err, "decode userinfo")
	}
	return gu, nil
}

// resolve finds the backend user for a Google identity, creating a student
// account on first sign-in.
func (g *GoogleAuth) resolve(ctx context.Context, gu googleUser) (authmw.Principal, error) {
	u, err := g.users.GetUserByEmail(ctx, gu.Email)
	if errors.Is(err, backend.ErrNotFound) {
		u, err = g.users.CreateUser(ctx, backend.User{
			Email:     gu.Email,
			Name:      gu.Name,
			AvatarURL: gu.Picture,
			Role:      rbac.RoleStudent,
		})
	}
	if err != nil {
		return authmw.Principal{}, err
	}
	role := u.Role
	if role == "" {
		role = rbac.RoleStudent
	}
	name := u.Name
	if name == "" {
		name = gu.Name
	}
	return authmw.Principal{
		UserID:  u.ID.String(),
		Role:    role,
		Email:   gu.Email,
		Name:    name,
		Picture: gu.Picture,
	}, nil
}

func (g *GoogleAuth) home() string {
	base := strings.TrimRight(g.publicURL, "/")
	return base + "/"
}

// sameOrigin allows a path on this site ("/x", not "//x" or "/\x") or an
// absolute http(s) URL on PUBLIC_URL's origin. Anything else is rejected.
func (g *GoogleAuth) sameOrigin(target string) bool {
	if target == "" || strings.ContainsAny(target, "\\") {
		return false
	}
	for _, r := range target {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	if target[0] == '/' {
		return len(target) == 1 || target[1] != '/'
	}
	u, err := url.Parse(target)
	if err != nil || u.User != nil || u.Opaque != "" {
		return false
	}
	base, err := url.Parse(g.publicURL)
	if err != nil || base.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Scheme == base.Scheme && strings.EqualFold(u.Host, base.Host)
}

func (g *GoogleAuth) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   strings.HasPrefix(g.publicURL, "https://"),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(ttl),
	})
}

func (g *GoogleAuth) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1})
}
