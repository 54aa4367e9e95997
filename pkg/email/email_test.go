package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFormatPurpose(t *testing.T) {
	assert.Equal(t, "Signup", FormatPurpose("signup"))
	assert.Equal(t, "Forgot Password", FormatPurpose("forgot_password"))
}

func TestOTPMessage(t *testing.T) {
	subject, body, err := OTPMessage("012345", "forgot_password", 300*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "Your forgot password code: 012345", subject)
	assert.Contains(t, body, "012345")
	assert.Contains(t, body, "Forgot Password verification code")
	assert.Contains(t, body, "expires in 5 minutes")
}

func TestLogServiceReportsDisabled(t *testing.T) {
	err := NewLogService(zap.NewNop()).SendEmail("a@x.com", "s", "b")
	assert.ErrorIs(t, err, ErrDeliveryDisabled)
}

func TestConstructorsRejectMissingConfig(t *testing.T) {
	_, err := NewResendService("", "from@x.com", zap.NewNop())
	assert.Error(t, err)

	_, err = NewSMTPService(SMTPConfig{Port: 587, From: "from@x.com"}, zap.NewNop())
	assert.Error(t, err)

	s, err := NewSMTPService(SMTPConfig{Host: "smtp.x.com", Port: 587, From: "from@x.com"}, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, s)
}
