package handler

import (
	"errors"
	"net/http"
	"storefront-auth/internal/domain"
	"storefront-auth/internal/middleware"
	"storefront-auth/internal/service"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"
)

type AuthHandler struct {
	identity       *service.IdentityService
	authMiddleware *middleware.AuthMiddleware
	logger         *zap.Logger
}

func NewAuthHandler(identity *service.IdentityService, authMiddleware *middleware.AuthMiddleware, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		identity:       identity,
		authMiddleware: authMiddleware,
		logger:         logger.Named("auth_handler"),
	}
}

// SendOTP handles POST /auth/send-otp. An empty purpose means signup.
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	purpose := domain.PurposeSignup
	if req.Purpose != "" {
		p, err := domain.ParsePurpose(req.Purpose)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		purpose = p
	}

	dispatch, err := h.identity.SendOTP(r.Context(), req.Email, purpose)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dispatchResponse(dispatch))
}

// VerifyOTP handles POST /auth/verify-otp. It checks the code without
// consuming it; the mutation endpoints consume.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	purpose, err := domain.ParsePurpose(req.Purpose)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.identity.CheckOTP(r.Context(), req.Email, purpose, req.Code); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *AuthHandler) SignupWithOTP(w http.ResponseWriter, r *http.Request) {
	var req SignupWithOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.identity.SignupWithOTP(r.Context(), service.SignupInput{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		OTPCode:         req.OTPCode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// The account exists at this point; a cookie failure only means the
	// user has to sign in manually.
	if err := h.authMiddleware.SetUserSession(w, r, user.ID); err != nil {
		h.logger.Error("failed to set session", zap.Int("user_id", user.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, SuccessResponse{Success: true})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	dispatch, err := h.identity.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dispatchResponse(dispatch))
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.identity.ResetPassword(r.Context(), service.ResetInput{
		Email:           req.Email,
		OTPCode:         req.OTPCode,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// OTPStatus handles GET /auth/otp-status?email=&purpose= so a reloaded
// client can resume its countdown.
func (h *AuthHandler) OTPStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("email") == "" {
		h.fail(w, r, domain.ErrMissingFields)
		return
	}

	purpose, err := domain.ParsePurpose(q.Get("purpose"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	left, active, err := h.identity.OTPStatus(r.Context(), q.Get("email"), purpose)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, OTPStatusResponse{Success: true, Active: active, ExpiresIn: left})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authMiddleware.GetUserID(r)
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, APIError{Code: CodeUnauthorized, Message: "Please sign in to continue."})
		return
	}

	user, err := h.identity.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeAPIError(w, http.StatusUnauthorized, APIError{Code: CodeUnauthorized, Message: "Please sign in to continue."})
			return
		}
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		Success: true,
		User: UserView{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			CreatedAt: user.CreatedAt,
		},
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authMiddleware.ClearSession(w, r); err != nil {
		h.logger.Warn("failed to clear session", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// CSRFToken hands the SPA the token it must echo in X-CSRF-Token. Outside
// production the middleware is not mounted and the token is empty.
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CSRFResponse{Success: true, CSRFToken: csrf.Token(r)})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeAPIError(w, http.StatusBadRequest, APIError{Code: CodeInvalidRequest, Message: "Request body must be valid JSON."})
		return false
	}
	return true
}

func (h *AuthHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr, known := mapError(err)
	if !known || status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
	writeAPIError(w, status, apiErr)
}

func dispatchResponse(d *service.OTPDispatch) SendOTPResponse {
	return SendOTPResponse{
		Success:   true,
		ExpiresIn: d.ExpiresIn,
		EmailSent: d.EmailSent,
		DevOTP:    d.DevOTP,
	}
}
