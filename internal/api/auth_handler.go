package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/crate-api/internal/api/shared"
	"github.com/phrazzld/crate-api/internal/config"
	"github.com/phrazzld/crate-api/internal/service/auth"
)

// AuthHandler handles the operator login endpoint. The service runs
// with a single operator account configured at startup.
type AuthHandler struct {
	cfg              config.AuthConfig
	jwtService       auth.JWTService
	passwordVerifier auth.PasswordVerifier
	validator        *validator.Validate
}

// NewAuthHandler creates a new AuthHandler with the given dependencies.
func NewAuthHandler(
	cfg config.AuthConfig,
	jwtService auth.JWTService,
	passwordVerifier auth.PasswordVerifier,
) *AuthHandler {
	return &AuthHandler{
		cfg:              cfg,
		jwtService:       jwtService,
		passwordVerifier: passwordVerifier,
		validator:        validator.New(),
	}
}

// Login handles the /auth/login endpoint.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := DecodeJSON(r, &req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	// Constant-time username comparison; the bcrypt check below is the
	// real gate, this avoids an early-exit timing signal.
	usernameMatch := subtle.ConstantTimeCompare(
		[]byte(req.Username), []byte(h.cfg.OperatorUsername)) == 1
	passwordErr := h.passwordVerifier.Compare(h.cfg.OperatorPasswordHash, req.Password)

	if !usernameMatch || passwordErr != nil {
		RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid credentials",
			auth.ErrInvalidCredentials, shared.WithElevatedLogLevel())
		return
	}

	token, err := h.jwtService.GenerateToken(r.Context(), req.Username)
	if err != nil {
		slog.Error("failed to generate token", "error", err, "username", req.Username)
		RespondWithError(w, r, http.StatusInternalServerError, "Failed to generate authentication token")
		return
	}

	expiresAt := time.Now().
		Add(time.Duration(h.cfg.TokenLifetimeMinutes) * time.Minute).
		UTC().Format(time.RFC3339)

	RespondWithJSON(w, r, http.StatusOK, AuthResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
	})
}
