package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var otpTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>{{.Title}}</h2>
  <p>Use the code below to continue. It expires in {{.Minutes}} minute{{if ne .Minutes 1}}s{{end}}.</p>
  <p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">{{.Code}}</p>
  <p>If you did not request this, you can ignore this email.</p>
</body>
</html>`))

// FormatPurpose turns "forgot_password" into "Forgot Password".
func FormatPurpose(purpose string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(purpose, "_", " "))
}

func OTPMessage(code, purpose string, ttl time.Duration) (subject, body string, err error) {
	minutes := int(ttl.Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	title := FormatPurpose(purpose) + " verification code"

	var buf bytes.Buffer
	err = otpTemplate.Execute(&buf, struct {
		Title   string
		Code    string
		Minutes int
	}{title, code, minutes})
	if err != nil {
		return "", "", fmt.Errorf("failed to render OTP email: %w", err)
	}

	return fmt.Sprintf("Your %s code: %s", strings.ToLower(FormatPurpose(purpose)), code), buf.String(), nil
}
