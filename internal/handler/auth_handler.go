package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/service"
)

// AuthHandler exposes the OTP authentication flow over HTTP. It only
// translates between the wire and the auth service; no policy lives here.
type AuthHandler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
}

type verifyRequest struct {
	VerificationToken string `json:"verification_token"`
	OTP               string `json:"otp"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login accepts a phone number or email and dispatches an OTP.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	issuance, err := h.auth.SendOTP(r.Context(), req.Identifier, clientIdentity(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issuance)
}

// VerifyOTP exchanges a verification token and code for a session.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VerificationToken == "" || req.OTP == "" {
		writeError(w, http.StatusBadRequest, "verification_token and otp are required")
		return
	}

	tokens, err := h.auth.VerifyOTP(r.Context(), req.VerificationToken, req.OTP, clientIdentity(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// Validate resolves the bearer token to a vendor id and session expiry.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	info, err := h.auth.ValidateSession(r.Context(), bearerToken(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":      true,
		"vendor_id":  info.VendorID,
		"expires_at": info.ExpiresAt,
	})
}

// Refresh mints a new access token from a refresh token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokens, err := h.auth.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// Logout tears down the bearer token's session. Tokens that never came from
// this service are rejected as unauthenticated.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *AuthHandler) writeServiceError(w http.ResponseWriter, err error) {
	var limited *service.LimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", retryAfterSeconds(limited.RetryAfter))
		status := http.StatusTooManyRequests
		if errors.Is(err, service.ErrLockedOut) {
			status = http.StatusLocked
		}
		writeError(w, status, err.Error())
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrTokenInvalid),
		errors.Is(err, service.ErrInvalidCode),
		errors.Is(err, service.ErrAlreadyUsed),
		errors.Is(err, service.ErrAttemptsExhausted):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, service.ErrVendorDeactivated):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Error("Unhandled auth error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
