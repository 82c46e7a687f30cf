package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"funblink/app/internal/domain/account"
)

// Config holds runtime configuration for the blink server and CLI.
type Config struct {
	DBPath        string
	ServerPort    int
	LogLevel      string
	SentryDSN     string
	Environment   string
	ShutdownGrace time.Duration
	PublicBaseURL string
	// TrustProxyHeaders honours X-Forwarded-For, X-Real-IP and X-Forwarded-Proto. Enable
	// only behind a proxy that overwrites them.
	TrustProxyHeaders bool
	Program       ProgramConfig
	RateLimit     RateLimitConfig
	AuthMaxSkew   time.Duration
}

// ProgramConfig describes the list namespace, its owning program and slot economics.
type ProgramConfig struct {
	ID                  account.Pubkey
	Namespace           string
	SlotCapacity        int
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// RateLimitConfig configures the per-client token buckets.
type RateLimitConfig struct {
	Burst             int
	RequestsPerSecond float64
	ClientTTL         time.Duration
}

const (
	defaultDBPath              = "./data/funblink.db"
	defaultServerPort          = 8080
	defaultLogLevel            = "info"
	defaultEnvironment         = "development"
	defaultShutdownGrace       = 10 * time.Second
	defaultProgramID           = "5Z4UkWTCAQu2sNRKkq4GcredbKuF9jGdSxG5mH7ypY6B"
	defaultNamespace           = "blink_list"
	defaultSlotCapacity        = 2048
	defaultLamportsPerByteYear = 3480
	defaultExemptionYears      = 2
	defaultRateLimitBurst      = 20
	defaultRateLimitRPS        = 10
	defaultRateLimitClientTTL  = 10 * time.Minute
	defaultAuthMaxSkew         = 5 * time.Minute
)

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:        getEnv("DB_PATH", defaultDBPath),
		LogLevel:      getEnv("LOG_LEVEL", defaultLogLevel),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		Environment:   getEnv("ENV", defaultEnvironment),
		ShutdownGrace: defaultShutdownGrace,
		PublicBaseURL: strings.TrimSuffix(os.Getenv("PUBLIC_BASE_URL"), "/"),
		Program: ProgramConfig{
			Namespace: getEnv("LIST_NAMESPACE", defaultNamespace),
		},
	}

	var err error

	if cfg.ServerPort, err = intEnv("SERVER_PORT", defaultServerPort); err != nil {
		return nil, err
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, eris.Errorf("invalid SERVER_PORT value: %d is out of range", cfg.ServerPort)
	}

	programID := getEnv("PROGRAM_ID", defaultProgramID)
	if cfg.Program.ID, err = account.ParsePubkey(programID); err != nil {
		return nil, eris.Wrapf(err, "invalid PROGRAM_ID value: %s", programID)
	}

	if cfg.Program.SlotCapacity, err = intEnv("SLOT_CAPACITY", defaultSlotCapacity); err != nil {
		return nil, err
	}
	if cfg.Program.LamportsPerByteYear, err = uintEnv("RENT_LAMPORTS_PER_BYTE_YEAR", defaultLamportsPerByteYear); err != nil {
		return nil, err
	}
	if cfg.Program.ExemptionYears, err = uintEnv("RENT_EXEMPTION_YEARS", defaultExemptionYears); err != nil {
		return nil, err
	}

	if cfg.RateLimit.Burst, err = intEnv("RATE_LIMIT_BURST", defaultRateLimitBurst); err != nil {
		return nil, err
	}
	if cfg.RateLimit.RequestsPerSecond, err = floatEnv("RATE_LIMIT_RPS", defaultRateLimitRPS); err != nil {
		return nil, err
	}
	if cfg.RateLimit.ClientTTL, err = durationEnv("RATE_LIMIT_CLIENT_TTL", defaultRateLimitClientTTL); err != nil {
		return nil, err
	}

	if cfg.AuthMaxSkew, err = durationEnv("AUTH_MAX_SKEW", defaultAuthMaxSkew); err != nil {
		return nil, err
	}

	if cfg.TrustProxyHeaders, err = boolEnv("TRUST_PROXY_HEADERS", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := getEnv(key, strconv.Itoa(fallback))
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func uintEnv(key string, fallback uint64) (uint64, error) {
	raw := getEnv(key, strconv.FormatUint(fallback, 10))
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	raw := getEnv(key, strconv.FormatFloat(fallback, 'f', -1, 64))
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := getEnv(key, strconv.FormatBool(fallback))
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, fallback.String())
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}
