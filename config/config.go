package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"

	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	EmailProviderResend = "resend"
	EmailProviderSMTP   = "smtp"
	EmailProviderLog    = "log"
)

type Config struct {
	Environment string
	AppPort     string
	AppURL      string
	LogLevel    string
	CORSOrigins []string

	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies     []string
	ResetResponseFloor time.Duration

	StoreDriver string
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	RedisAddr     string
	RedisPassword string

	SessionSecret string
	CSRFSecret    string
	OTPSecret     string
	BcryptCost    int

	EmailProvider string
	EmailFrom     string
	ResendAPIKey  string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string

	OTPTTL         time.Duration
	OTPMaxAttempts int
	OTPIssueLimit  int
	OTPIssueWindow time.Duration
	RequestLimit   int
	RequestWindow  time.Duration
}

// Load reads the process environment. Callers load .env beforehand.
func Load(logger *zap.Logger) (*Config, error) {
	environment := getEnv("ENVIRONMENT", EnvDevelopment)
	appPort := getEnv("APP_PORT", "8080")
	appURL := getEnv("APP_URL", "")

	if appURL == "" {
		if environment == EnvProduction {
			logger.Warn("APP_URL not set in production, CSRF origin validation may fail")
		} else {
			appURL = "http://localhost:" + appPort
		}
	}

	cfg := &Config{
		Environment: environment,
		AppPort:     appPort,
		AppURL:      appURL,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", appURL)),

		TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),

		StoreDriver: getEnv("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		SessionSecret: secretOrRandom(logger, "SESSION_SECRET"),
		CSRFSecret:    secretOrRandom(logger, "CSRF_SECRET"),
		OTPSecret:     secretOrRandom(logger, "OTP_SECRET"),

		EmailProvider: getEnv("EMAIL_PROVIDER", EmailProviderLog),
		EmailFrom:     getEnv("EMAIL_FROM", ""),
		ResendAPIKey:  getEnv("RESEND_API_KEY", ""),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
	}

	var err error
	if cfg.BcryptCost, err = getInt("BCRYPT_COST", 12); err != nil {
		return nil, err
	}
	if cfg.SMTPPort, err = getInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = getDuration("OTP_TTL", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.OTPMaxAttempts, err = getInt("OTP_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.OTPIssueLimit, err = getInt("OTP_ISSUE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.OTPIssueWindow, err = getDuration("OTP_ISSUE_WINDOW", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RequestLimit, err = getInt("REQUEST_LIMIT", 60); err != nil {
		return nil, err
	}
	if cfg.RequestWindow, err = getDuration("REQUEST_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ResetResponseFloor, err = getDuration("RESET_RESPONSE_FLOOR", 750*time.Millisecond); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		if err := cfg.parseDBURL(); err != nil {
			return nil, err
		}
	} else {
		cfg.DBHost = getEnv("DB_HOST", "localhost")
		cfg.DBPort = getEnv("DB_PORT", "5432")
		cfg.DBUser = getEnv("DB_USER", "postgres")
		cfg.DBPassword = getEnv("DB_PASSWORD", "password")
		cfg.DBName = getEnv("DB_NAME", "storefront")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("app_port", cfg.AppPort),
		zap.String("app_url", cfg.AppURL),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("email_provider", cfg.EmailProvider),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Strings("trusted_proxies", cfg.TrustedProxies),
		zap.Duration("otp_ttl", cfg.OTPTTL),
	)

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return fmt.Errorf("unknown ENVIRONMENT %q", c.Environment)
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.EmailProvider {
	case EmailProviderResend, EmailProviderSMTP, EmailProviderLog:
	default:
		return fmt.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider)
	}
	if c.IsProduction() && c.StoreDriver == StoreDriverMemory {
		return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTPMaxAttempts <= 0 || c.OTPIssueLimit <= 0 || c.RequestLimit <= 0 {
		return fmt.Errorf("OTP and request limits must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// getDuration accepts Go durations ("5m") or bare seconds ("300").
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) parseDBURL() error {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	c.DBHost = u.Hostname()
	c.DBPort = u.Port()
	if c.DBPort == "" {
		c.DBPort = "5432"
	}

	c.DBUser = u.User.Username()
	if password, ok := u.User.Password(); ok {
		c.DBPassword = password
	}

	c.DBName = strings.TrimPrefix(u.Path, "/")
	return nil
}

func secretOrRandom(logger *zap.Logger, name string) string {
	if v := getEnv(name, ""); v != "" {
		return v
	}

	logger.Warn("secret not set, generating random value (will not persist across restarts)", zap.String("name", name))

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		logger.Fatal("failed to generate random secret", zap.String("name", name), zap.Error(err))
	}

	return base64.StdEncoding.EncodeToString(b)
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// ExposeDevOTP is true only for environments explicitly marked non-production.
func (c *Config) ExposeDevOTP() bool {
	return c.Environment == EnvDevelopment || c.Environment == EnvTest
}
