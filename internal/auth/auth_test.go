package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	authmw "github.com/TalJa1/progresso-web-sub000/internal/auth/middleware"
	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/config"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
	"github.com/TalJa1/progresso-web-sub000/internal/rbac"
)

type fakeUsers struct {
	byEmail map[string]backend.User
	created []backend.User
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (backend.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return backend.User{}, &backend.APIError{Method: "GET", Path: "/users/email/" + email, Status: http.StatusNotFound}
}

func (f *fakeUsers) CreateUser(_ context.Context, u backend.User) (backend.User, error) {
	u.ID = "55"
	f.created = append(f.created, u)
	return u, nil
}

func googleStub(t *testing.T, user googleUser) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"g-at","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer g-at", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(user)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newGoogle(t *testing.T, srv *httptest.Server, users UserDirectory, hd string) (*GoogleAuth, *authmw.AuthService) {
	svc := authmw.NewAuthService("secret", time.Hour)
	cfg := config.Config{
		PublicURL:          "http://app.local",
		GoogleClientID:     "cid",
		GoogleClientSecret: "csecret",
		GoogleRedirectURI:  "http://app.local/auth/google/callback",
		GoogleAllowedHD:    hd,
	}
	g := NewGoogleAuth(cfg, svc, users, logger.Nop{})
	g.oauth.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}
	g.userInfoURL = srv.URL + "/userinfo"
	return g, svc
}

func TestGoogleLogin_SetsStateAndRedirects(t *testing.T) {
	g, _ := newGoogle(t, googleStub(t, googleUser{}), &fakeUsers{}, "school.edu")

	rec := httptest.NewRecorder()
	g.LoginHandler()(rec, httptest.NewRequest(http.MethodGet, "/auth/google/login?redirect=/exams", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "cid", loc.Query().Get("client_id"))
	assert.Equal(t, "school.edu", loc.Query().Get("hd"))

	var state string
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookie {
			state = c.Value
		}
	}
	assert.NotEmpty(t, state)
	assert.Equal(t, state, loc.Query().Get("state"))

	for _, target := range []string{
		"https://evil.example/x",
		"//evil.example/x",
		`/\evil.example/x`,
		"https:/evil.example",
		"http:evil.example",
		"https://app.local/x",
		"http://user@app.local/x",
		"javascript:alert(1)",
		"/\t/evil.example",
	} {
		rec = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/auth/google/login?redirect="+url.QueryEscape(target), nil)
		g.LoginHandler()(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	for _, target := range []string{"/", "/exams?tab=1", "http://app.local/lessons", "HTTP://APP.LOCAL/"} {
		rec = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/auth/google/login?redirect="+url.QueryEscape(target), nil)
		g.LoginHandler()(rec, req)
		assert.Equal(t, http.StatusFound, rec.Code, target)
	}
}

func callback(g *GoogleAuth, state, cookieState string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=the-code&state="+state, nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: cookieState})
	req.AddCookie(&http.Cookie{Name: redirectCookie, Value: url.QueryEscape("/exams")})
	rec := httptest.NewRecorder()
	g.CallbackHandler()(rec, req)
	return rec
}

func TestGoogleCallback_CreatesStudentOnFirstSignIn(t *testing.T) {
	srv := googleStub(t, googleUser{Sub: "g1", Email: "amy@school.edu", EmailVerified: true, Name: "Amy", HD: "school.edu"})
	users := &fakeUsers{byEmail: map[string]backend.User{}}
	g, svc := newGoogle(t, srv, users, "school.edu")

	rec := callback(g, "st", "st")
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	require.Len(t, users.created, 1)
	assert.Equal(t, "amy@school.edu", users.created[0].Email)
	assert.Equal(t, rbac.RoleStudent, users.created[0].Role)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/exams", loc.Path)
	p, err := svc.Parse(loc.Query().Get("access_token"))
	require.NoError(t, err)
	assert.Equal(t, authmw.Principal{UserID: "55", Role: rbac.RoleStudent, Email: "amy@school.edu", Name: "Amy"}, p)
}

func TestGoogleCallback_ExistingUserKeepsRole(t *testing.T) {
	srv := googleStub(t, googleUser{Email: "tom@school.edu", EmailVerified: true, Name: "Tom"})
	users := &fakeUsers{byEmail: map[string]backend.User{
		"tom@school.edu": {ID: "8", Email: "tom@school.edu", Name: "Mr. Tom", Role: rbac.RoleTeacher},
	}}
	g, svc := newGoogle(t, srv, users, "")

	rec := callback(g, "st", "st")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Empty(t, users.created)

	loc, _ := url.Parse(rec.Header().Get("Location"))
	p, err := svc.Parse(loc.Query().Get("access_token"))
	require.NoError(t, err)
	assert.Equal(t, "8", p.UserID)
	assert.Equal(t, rbac.RoleTeacher, p.Role)
	assert.Equal(t, "Mr. Tom", p.Name)
}

func TestGoogleCallback_Rejections(t *testing.T) {
	srv := googleStub(t, googleUser{Email: "x@gmail.com", EmailVerified: true, HD: ""})
	g, _ := newGoogle(t, srv, &fakeUsers{}, "school.edu")

	assert.Equal(t, http.StatusBadRequest, callback(g, "st", "other").Code)
	assert.Equal(t, http.StatusUnauthorized, callback(g, "st", "st").Code)
}

func TestLoginHandler(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	svc := authmw.NewAuthService("secret", time.Hour)
	cfg := config.Config{AdminUser: "root", AdminPassHash: string(hash)}
	users := &fakeUsers{byEmail: map[string]backend.User{
		"amy@school.edu": {ID: "12", Email: "amy@school.edu", Name: "Amy"},
	}}
	h := LoginHandler(svc, users, cfg, logger.Nop{})

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
		return rec
	}
	principal := func(rec *httptest.ResponseRecorder) authmw.Principal {
		var out loginResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
		p, err := svc.Parse(out.AccessToken)
		require.NoError(t, err)
		return p
	}

	rec := post(`{"username":"root","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rbac.RoleAdmin, principal(rec).Role)

	assert.Equal(t, http.StatusUnauthorized, post(`{"username":"root","password":"root"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, post(`{"username":"bob","password":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{`).Code)

	rec = post(`{"username":"bob","password":"bob"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, authmw.Principal{UserID: "local|bob", Role: rbac.RoleStudent, Name: "bob"}, principal(rec))

	rec = post(`{"username":"amy@school.edu","password":"amy@school.edu"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	p := principal(rec)
	assert.Equal(t, "12", p.UserID)
	assert.Equal(t, rbac.RoleStudent, p.Role)
}
