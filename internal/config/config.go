package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Env       string
	Mode      Mode
	HTTPAddr  string
	PublicURL string

	DBDriver     string
	DBDSN        string
	SessionStore string // memory|sql
	SiteID       string

	BackendURL     string
	BackendAPIKey  string
	BackendTimeout time.Duration
	CacheTTL       time.Duration

	// optional OAuth2 client-credentials auth against the backend
	BackendTokenURL     string
	BackendClientID     string
	BackendClientSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret      string
	TokenTTL        time.Duration
	EnableLocalAuth bool
	AdminUser       string
	AdminPassHash   string // bcrypt

	EnableGoogleAuth   bool
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string // e.g., PUBLIC_URL + "/auth/google/callback"
	GoogleAllowedHD    string

	CORSOrigins []string

	DefaultExamDuration time.Duration
	RateLimitRPS        float64
	RateLimitBurst      int

	RollbarToken string
}

// FromEnv reads configuration from the environment, after loading .env and
// .env.<env> from the working directory when they exist.
func FromEnv() Config {
	env := strings.ToLower(os.Getenv("ENV"))
	if env == "" {
		env = "dev"
	}
	loadDotEnv(".env." + env)
	loadDotEnv(".env")

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("mode", string(ModeOffline))
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("public_url", "")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "")
	v.SetDefault("session_store", "sql")
	v.SetDefault("site_id", "local")
	v.SetDefault("backend_url", "http://localhost:8000/api/v1")
	v.SetDefault("backend_api_key", "")
	v.SetDefault("backend_timeout", 10*time.Second)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("backend_token_url", "")
	v.SetDefault("backend_client_id", "")
	v.SetDefault("backend_client_secret", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("auth_hmac_secret", "supersecret-dev-key")
	v.SetDefault("token_ttl", 8*time.Hour)
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass_hash", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji")
	v.SetDefault("enable_google_auth", false)
	v.SetDefault("google_client_id", "")
	v.SetDefault("google_client_secret", "")
	v.SetDefault("google_allowed_hd", "")
	v.SetDefault("cors_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("default_exam_minutes", 30)
	v.SetDefault("rate_limit_rps", 5.0)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("rollbar_token", "")
	v.AutomaticEnv()

	mode := Mode(v.GetString("mode"))
	pub := strings.TrimSuffix(v.GetString("public_url"), "/")
	v.SetDefault("enable_local_auth", mode == ModeOffline)
	v.SetDefault("google_redirect_uri", pub+"/auth/google/callback")

	return Config{
		Env:       env,
		Mode:      mode,
		HTTPAddr:  v.GetString("http_addr"),
		PublicURL: pub,

		DBDriver:     v.GetString("db_driver"),
		DBDSN:        v.GetString("db_dsn"),
		SessionStore: v.GetString("session_store"),
		SiteID:       v.GetString("site_id"),

		BackendURL:     strings.TrimSuffix(v.GetString("backend_url"), "/"),
		BackendAPIKey:  v.GetString("backend_api_key"),
		BackendTimeout: v.GetDuration("backend_timeout"),
		CacheTTL:       v.GetDuration("cache_ttl"),

		BackendTokenURL:     v.GetString("backend_token_url"),
		BackendClientID:     v.GetString("backend_client_id"),
		BackendClientSecret: v.GetString("backend_client_secret"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		AuthSecret:      v.GetString("auth_hmac_secret"),
		TokenTTL:        v.GetDuration("token_ttl"),
		EnableLocalAuth: v.GetBool("enable_local_auth"),
		AdminUser:       v.GetString("admin_user"),
		AdminPassHash:   v.GetString("admin_pass_hash"),

		EnableGoogleAuth:   v.GetBool("enable_google_auth"),
		GoogleClientID:     v.GetString("google_client_id"),
		GoogleClientSecret: v.GetString("google_client_secret"),
		GoogleRedirectURI:  v.GetString("google_redirect_uri"),
		GoogleAllowedHD:    v.GetString("google_allowed_hd"),

		CORSOrigins: splitCSV(v.GetString("cors_origins")),

		DefaultExamDuration: time.Duration(v.GetInt("default_exam_minutes")) * time.Minute,
		RateLimitRPS:        v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:      v.GetInt("rate_limit_burst"),

		RollbarToken: v.GetString("rollbar_token"),
	}
}

func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("config: stat %s: %v", path, err)
		}
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Fatalf("config: load %s: %v", path, err)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
