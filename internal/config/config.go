package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string `env:"APP_ENV" envDefault:"development"`
	HTTPPort            string `env:"HTTP_PORT" envDefault:"8080"`
	ServiceName         string `env:"SERVICE_NAME" envDefault:"jukebox-auth"`
	FrontendRedirectURI string `env:"FRONTEND_REDIRECT_URI" envDefault:"http://127.0.0.1:3000"`

	Spotify   SpotifyConfig
	Auth      AuthConfig
	Refresh   RefreshConfig
	Store     StoreConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Telemetry TelemetryConfig
}

type SpotifyConfig struct {
	ClientID       string        `env:"SPOTIFY_APP_CLIENT_ID"`
	ClientSecret   string        `env:"SPOTIFY_APP_CLIENT_SECRET"`
	RedirectURI    string        `env:"SPOTIFY_REDIRECT_URI"`
	AuthorizeURI   string        `env:"SPOTIFY_AUTHORIZE_URI" envDefault:"https://accounts.spotify.com/authorize"`
	TokenURI       string        `env:"SPOTIFY_TOKEN_URI" envDefault:"https://accounts.spotify.com/api/token"`
	CurrentUserURI string        `env:"SPOTIFY_CURRENT_USER_URI" envDefault:"https://api.spotify.com/v1/me"`
	Scopes         []string      `env:"SPOTIFY_SCOPES" envSeparator:"," envDefault:"user-read-email,user-read-private"`
	HTTPTimeout    time.Duration `env:"SPOTIFY_HTTP_TIMEOUT" envDefault:"10s"`
}

type AuthConfig struct {
	JWTAlgorithm   string        `env:"JWT_ALGORITHM" envDefault:"HS256"`
	JWTSecret      string        `env:"JWT_SECRET_KEY"`
	JWTPrivateKey  string        `env:"JWT_PRIVATE_KEY"`
	JWTPublicKey   string        `env:"JWT_PUBLIC_KEY"`
	JWTTTL         time.Duration `env:"JWT_TTL" envDefault:"1h"`
	CookieName     string        `env:"AUTH_COOKIE_NAME" envDefault:"jwt"`
	CookiePath     string        `env:"AUTH_COOKIE_PATH" envDefault:"/"`
	CookieDomain   string        `env:"AUTH_COOKIE_DOMAIN"`
	CookieSecure   string        `env:"AUTH_COOKIE_SECURE"`
	CookieSameSite string        `env:"AUTH_COOKIE_SAMESITE"`
	StateTTL       time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
}

type RefreshConfig struct {
	Interval time.Duration `env:"TOKEN_REFRESH_INTERVAL" envDefault:"3m"`
	Window   time.Duration `env:"TOKEN_REFRESH_WINDOW" envDefault:"5m"`
}

type StoreConfig struct {
	// Backend is one of postgres, sqlite or redis.
	Backend       string `env:"STORE_BACKEND" envDefault:"postgres"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"data/auth.db"`
	EncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
}

type PostgresConfig struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Host        string `env:"PGHOST" envDefault:"localhost"`
	Port        string `env:"PGPORT" envDefault:"5432"`
	User        string `env:"PGUSER"`
	Password    string `env:"PGPASSWORD"`
	Database    string `env:"PGDATABASE"`
	SSLMode     string `env:"PGSSLMODE" envDefault:"disable"`
}

// RedisConfig is used by the redis store backend and, when Enabled, for OAuth state.
type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://127.0.0.1:3000"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
}

type TelemetryConfig struct {
	Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// Load reads .env (when present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Refresh.Interval <= 0 {
		return Config{}, fmt.Errorf("TOKEN_REFRESH_INTERVAL must be positive")
	}
	if cfg.Refresh.Window <= 0 {
		return Config{}, fmt.Errorf("TOKEN_REFRESH_WINDOW must be positive")
	}
	switch cfg.Store.Backend {
	case "postgres", "sqlite", "redis":
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}

	return cfg, nil
}
