package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application level configuration loaded from environment variables.
type Config struct {
	Shell   ShellConfig
	AuthAPI AuthAPIConfig

	RedisAddr string
	RedisDB   int
	RedisPass string

	LogLevel  string
	LogFormat string
}

// ShellConfig configures the desktop shell server and its session core.
type ShellConfig struct {
	ServerPort string
	StaticDir  string

	// APIBaseURL is the remote REST API that owns the authentication endpoint.
	APIBaseURL string
	APITimeout time.Duration

	// StoreNamespace separates the credential entries of several shell
	// profiles sharing one Redis instance.
	StoreNamespace   string
	CookieExpiryDays int
	CookieSecure     bool

	LoginPath string
	HomePath  string

	// LoginAttemptsPerMinute limits login submissions per client IP.
	LoginAttemptsPerMinute int

	IdleTimeout     time.Duration
	ActivitySignals []string

	RevalidateOnStart bool
}

// AuthAPIConfig configures the reference authentication endpoint.
type AuthAPIConfig struct {
	ServerPort     string
	MySQLDSN       string
	JWTSecret      string
	AccessTokenTTL time.Duration
	UsersFile      string
	SwaggerHost    string
}

// Load builds Config from environment with sensible defaults.
func Load() *Config {
	return &Config{
		Shell: ShellConfig{
			ServerPort:             getEnv("SHELL_PORT", "8080"),
			StaticDir:              getEnv("SHELL_STATIC_DIR", "./web"),
			APIBaseURL:             getEnv("API_BASE_URL", "http://localhost:5000"),
			APITimeout:             getEnvDuration("API_TIMEOUT", 15*time.Second),
			StoreNamespace:         getEnv("STORE_NAMESPACE", "default"),
			CookieExpiryDays:       getEnvInt("COOKIE_EXPIRY_DAYS", 1),
			CookieSecure:           getEnvBool("COOKIE_SECURE", false),
			LoginPath:              getEnv("LOGIN_PATH", "/login"),
			HomePath:               getEnv("HOME_PATH", "/app/"),
			LoginAttemptsPerMinute: getEnvInt("LOGIN_ATTEMPTS_PER_MINUTE", 10),
			IdleTimeout:            getEnvDuration("IDLE_TIMEOUT", 15*time.Minute),
			ActivitySignals:        getEnvList("ACTIVITY_SIGNALS", []string{"mousemove", "keydown", "click", "scroll", "touchstart"}),
			RevalidateOnStart:      getEnvBool("REVALIDATE_ON_START", true),
		},
		AuthAPI: AuthAPIConfig{
			ServerPort:     getEnv("AUTHAPI_PORT", "5000"),
			MySQLDSN:       getEnv("MYSQL_DSN", "user:password@tcp(localhost:3306)/fleetdesk?charset=utf8mb4&parseTime=True&loc=Local"),
			JWTSecret:      getEnv("JWT_SECRET", "change-me"),
			AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 12*time.Hour),
			UsersFile:      getEnv("USERS_FILE", "config/users.yaml"),
			SwaggerHost:    os.Getenv("SWAGGER_HOST"),
		},
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvInt("REDIS_DB", 0),
		RedisPass: os.Getenv("REDIS_PASSWORD"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

// getEnvList reads a comma separated list, dropping empty items.
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
