package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backends aceitos para o estado local persistido.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config centraliza a configuração carregada do ambiente.
type Config struct {
	Port             int
	SupabaseURL      string
	SupabaseAnonKey  string
	FunctionsURL     string
	JWTSecret        string
	StateBackend     string
	RedisURL         string
	DBDSN            string
	AllowOrigins     []string
	RateLimitPublic  RateLimitConfig
	OrgCacheTTL      time.Duration
	AuthCheckTimeout time.Duration
	ToastDismiss     time.Duration
	DirectoryPage    int
	DirectoryRate    float64
	ToastWebhookURL  string
	HTTPTimeout      time.Duration
}

// RateLimitConfig representa limites simples para throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load carrega variáveis de ambiente e aplica defaults seguros.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return nil, errors.New("PORT inválida")
	}
	cfg.Port = port

	cfg.SupabaseURL = strings.TrimRight(strings.TrimSpace(getEnv("SUPABASE_URL", "")), "/")
	if cfg.SupabaseURL == "" {
		return nil, errors.New("SUPABASE_URL obrigatório")
	}
	if _, err := url.ParseRequestURI(cfg.SupabaseURL); err != nil {
		return nil, errors.New("SUPABASE_URL inválida")
	}

	cfg.SupabaseAnonKey = strings.TrimSpace(getEnv("SUPABASE_ANON_KEY", ""))
	if cfg.SupabaseAnonKey == "" {
		return nil, errors.New("SUPABASE_ANON_KEY obrigatório")
	}

	cfg.FunctionsURL = strings.TrimRight(strings.TrimSpace(getEnv("FUNCTIONS_URL", "")), "/")
	if cfg.FunctionsURL == "" {
		cfg.FunctionsURL = cfg.SupabaseURL + "/functions/v1"
	}

	// Sem segredo os claims são lidos sem verificar assinatura (o servidor verifica).
	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", ""))
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET deve ter pelo menos 32 caracteres")
	}

	cfg.StateBackend = strings.ToLower(strings.TrimSpace(getEnv("STATE_BACKEND", "")))
	if cfg.StateBackend == "" {
		cfg.StateBackend = BackendMemory
	}
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.DBDSN = getEnv("DB_DSN", "")
	switch cfg.StateBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL obrigatório com STATE_BACKEND=redis")
		}
	case BackendPostgres:
		if cfg.DBDSN == "" {
			return nil, errors.New("DB_DSN obrigatório com STATE_BACKEND=postgres")
		}
	default:
		return nil, errors.New("STATE_BACKEND inválido")
	}

	allowOrigins := strings.Split(getEnv("ALLOW_ORIGINS", ""), ",")
	cfg.AllowOrigins = nil
	for _, origin := range allowOrigins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}

	cfg.RateLimitPublic = RateLimitConfig{RequestsPerSecond: 10, Burst: 20}

	if cfg.OrgCacheTTL, err = parseDurationEnv("ORG_CACHE_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AuthCheckTimeout, err = parseDurationEnv("AUTH_CHECK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ToastDismiss, err = parseDurationEnv("TOAST_DISMISS_AFTER", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = parseDurationEnv("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.DirectoryPage, err = parseIntEnv("DIRECTORY_PAGE_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.DirectoryPage <= 0 {
		return nil, errors.New("DIRECTORY_PAGE_SIZE deve ser positivo")
	}

	rateStr := getEnv("DIRECTORY_RATE_LIMIT", "1")
	cfg.DirectoryRate, err = strconv.ParseFloat(rateStr, 64)
	if err != nil || cfg.DirectoryRate <= 0 {
		return nil, errors.New("DIRECTORY_RATE_LIMIT inválido")
	}

	cfg.ToastWebhookURL = strings.TrimSpace(getEnv("TOAST_WEBHOOK_URL", ""))

	return cfg, nil
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	val := getEnv(key, "")
	if val == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.New(key + " inválido")
	}
	return dur, nil
}

func parseIntEnv(key string, def int) (int, error) {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.New(key + " inválido")
	}
	return n, nil
}
