package handler

import "time"

type SendOTPRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type SendOTPResponse struct {
	Success   bool   `json:"success"`
	ExpiresIn int    `json:"expiresIn"`
	EmailSent bool   `json:"emailSent"`
	DevOTP    string `json:"devOtp,omitempty"`
}

type VerifyOTPRequest struct {
	Email   string `json:"email"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

type SignupWithOTPRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	OTPCode         string `json:"otpCode"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Email           string `json:"email"`
	OTPCode         string `json:"otpCode"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type OTPStatusResponse struct {
	Success   bool `json:"success"`
	Active    bool `json:"active"`
	ExpiresIn int  `json:"expiresIn"`
}

type UserView struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"createdAt"`
}

type UserResponse struct {
	Success bool     `json:"success"`
	User    UserView `json:"user"`
}

type CSRFResponse struct {
	Success   bool   `json:"success"`
	CSRFToken string `json:"csrfToken"`
}
