package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9090", cfg.AppURL)
	assert.Equal(t, []string{"http://localhost:9090"}, cfg.CORSOrigins)
	assert.Equal(t, "s", cfg.SessionSecret)
	assert.NotEmpty(t, cfg.CSRFSecret)
	assert.Equal(t, 300*time.Second, cfg.OTPTTL)
	assert.Equal(t, 5, cfg.OTPMaxAttempts)
	assert.Equal(t, EmailProviderLog, cfg.EmailProvider)
	assert.True(t, cfg.ExposeDevOTP())
	assert.False(t, cfg.IsProduction())
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoadParsesDatabaseURLAndDurations(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("APP_URL", "https://shop.example.com")
	t.Setenv("DATABASE_URL", "postgres://shop:pw@db.internal:6543/store")
	t.Setenv("OTP_TTL", "120")
	t.Setenv("OTP_ISSUE_WINDOW", "30m")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 172.16.0.5")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.Equal(t, "6543", cfg.DBPort)
	assert.Equal(t, "shop", cfg.DBUser)
	assert.Equal(t, "pw", cfg.DBPassword)
	assert.Equal(t, "store", cfg.DBName)
	assert.Equal(t, 120*time.Second, cfg.OTPTTL)
	assert.Equal(t, 30*time.Minute, cfg.OTPIssueWindow)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.5"}, cfg.TrustedProxies)
	assert.Equal(t, 750*time.Millisecond, cfg.ResetResponseFloor)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.ExposeDevOTP())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("OTP_TTL", "soon")
	_, err := Load(zap.NewNop())
	assert.Error(t, err)

	t.Setenv("OTP_TTL", "300")
	t.Setenv("ENVIRONMENT", "staging")
	_, err = Load(zap.NewNop())
	assert.Error(t, err)

	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("STORE_DRIVER", "memory")
	_, err = Load(zap.NewNop())
	assert.Error(t, err)
}
