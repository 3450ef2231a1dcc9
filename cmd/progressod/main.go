package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	api "github.com/TalJa1/progresso-web-sub000/internal/api/http"
	"github.com/TalJa1/progresso-web-sub000/internal/auth"
	authmw "github.com/TalJa1/progresso-web-sub000/internal/auth/middleware"
	"github.com/TalJa1/progresso-web-sub000/internal/backend"
	"github.com/TalJa1/progresso-web-sub000/internal/cache"
	"github.com/TalJa1/progresso-web-sub000/internal/config"
	"github.com/TalJa1/progresso-web-sub000/internal/db"
	"github.com/TalJa1/progresso-web-sub000/internal/eventlog"
	"github.com/TalJa1/progresso-web-sub000/internal/exam"
	"github.com/TalJa1/progresso-web-sub000/internal/logger"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.RollbarToken, cfg.Env)
	if c, ok := log.(interface{ Close() }); ok {
		defer c.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// --- Session store + event log ---
	var (
		dbh    *sql.DB
		store  exam.Store
		events eventlog.Appender
	)
	switch cfg.SessionStore {
	case "memory":
		store = exam.NewInMemoryStore()
		events = &eventlog.Memory{}
	default:
		var err error
		dbh, err = db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
		if err != nil {
			log.Fatal("db open failed", "driver", cfg.DBDriver, err)
		}
		defer dbh.Close()
		store = exam.NewSQLStore(dbh)
		events = eventlog.NewRepo(dbh, cfg.SiteID)
	}

	// --- Backend client (+ response cache) ---
	var rc cache.Cache = cache.NewMemoryCache()
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, using in-process cache", "addr", cfg.RedisAddr, err)
			_ = rdb.Close()
			rdb = nil
		} else {
			rc = cache.NewRedisCache(rdb, "progresso:")
			defer rdb.Close()
		}
	}
	opts := []backend.Option{backend.WithCache(rc, cfg.CacheTTL)}
	if cfg.BackendClientID != "" && cfg.BackendTokenURL != "" {
		opts = append(opts, backend.WithClientCredentials(cfg.BackendTokenURL, cfg.BackendClientID, cfg.BackendClientSecret, cfg.BackendTimeout))
	} else if cfg.BackendAPIKey != "" {
		opts = append(opts, backend.WithAPIKey(cfg.BackendAPIKey))
	}
	client := backend.New(cfg.BackendURL, cfg.BackendTimeout, opts...)

	// --- Exam sessions ---
	mgr := exam.NewManager(store, client,
		exam.WithDefaultDuration(cfg.DefaultExamDuration),
		exam.WithEventLog(events),
		exam.WithLogger(log),
	)
	if n, err := mgr.Resume(ctx); err != nil {
		log.Error("resume sessions failed", err)
	} else if n > 0 {
		log.Info("resumed exam sessions", "count", n)
	}

	authSvc := authmw.NewAuthService(cfg.AuthSecret, cfg.TokenTTL)
	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Local login (offline mode by default; can be enabled online via env)
	if cfg.EnableLocalAuth {
		r.With(limiter.Middleware).Post("/auth/login", auth.LoginHandler(authSvc, client, cfg, log))
	}
	if cfg.EnableGoogleAuth {
		g := auth.NewGoogleAuth(cfg, authSvc, client, log)
		r.With(limiter.Middleware).Get("/auth/google/login", g.LoginHandler())
		r.With(limiter.Middleware).Get("/auth/google/callback", g.CallbackHandler())
	}

	// Protected API (JWT → principal + role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(authSvc))
		api.MountContent(pr, client, log)
		api.MountSessions(pr, mgr, log, limiter.Middleware)
		api.MountProfile(pr, client, log)
		api.MountSchedule(pr, client, log)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if dbh != nil {
			if err := dbh.PingContext(r.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "cache unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	sweep := time.NewTicker(time.Hour)
	defer sweep.Stop()
	go func() {
		for range sweep.C {
			limiter.Sweep()
			if sw, ok := rc.(interface{ Sweep() int }); ok {
				sw.Sweep()
			}
		}
	}()

	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "mode", string(cfg.Mode), "store", cfg.SessionStore, "backend", cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", err)
		}
	}()

	<-stop
	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", err)
	}
	mgr.Close()
}
