package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"a@x.com", true},
		{"  First.Last+tag@shop.example.org ", true},
		{"", false},
		{"no-at-sign.com", false},
		{"a@x", false},
		{"a@@x.com", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateEmail(tt.email), tt.email)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     error
	}{
		{"Str0ng!Pass", nil},
		{"Sh0rt!", ErrPasswordTooShort},
		{"alllower1!", ErrPasswordUppercase},
		{"ALLUPPER1!", ErrPasswordLowercase},
		{"NoDigits!!", ErrPasswordDigit},
		{"NoSpecial12", ErrPasswordSpecialChar},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidatePassword(tt.password), tt.password)
	}
}

func TestValidateCode(t *testing.T) {
	assert.True(t, ValidateCode("000000"))
	assert.True(t, ValidateCode("123456"))
	assert.False(t, ValidateCode("12345"))
	assert.False(t, ValidateCode("1234567"))
	assert.False(t, ValidateCode("12a456"))
	assert.False(t, ValidateCode(""))
}
