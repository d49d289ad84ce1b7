package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ivansuy/finalsecurityandaudit/internal/auth"
	"github.com/ivansuy/finalsecurityandaudit/internal/backoff"
	"github.com/ivansuy/finalsecurityandaudit/internal/events"
	"github.com/ivansuy/finalsecurityandaudit/pkg/database/queries"
)

type AuthHandler struct {
	userRepo    *queries.UserRepository
	authService *auth.Service
	backoff     *backoff.Service
	publisher   *events.Publisher
}

func NewAuthHandler(userRepo *queries.UserRepository, authService *auth.Service, backoffSvc *backoff.Service, publisher *events.Publisher) *AuthHandler {
	return &AuthHandler{
		userRepo:    userRepo,
		authService: authService,
		backoff:     backoffSvc,
		publisher:   publisher,
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	Username  string `json:"username"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	ip := c.ClientIP()
	key := backoff.BuildKey(ip, &req.Username)

	user, err := h.userRepo.GetByUsername(ctx, req.Username)
	if err != nil {
		if err == queries.ErrUserNotFound {
			h.failedAttempt(c, ctx, key, ip, req.Username, "user_not_found")
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		h.failedAttempt(c, ctx, key, ip, req.Username, "invalid_password")
		return
	}

	if _, err := h.backoff.RegisterAttempt(ctx, key, true, ip, &req.Username, "login_ok"); err != nil {
		// Audit write failures never block a valid login
		c.Error(err)
	}

	token, err := h.authService.GenerateToken(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	// Set secure HTTP-only cookie with the token
	// Cookie expires in 24 hours (same as token)
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(
		"auth_token", // name
		token,        // value
		86400,        // maxAge (24 hours in seconds)
		"/",          // path
		"",           // domain (empty = current domain)
		true,         // secure (HTTPS only)
		true,         // httpOnly (not accessible via JavaScript)
	)

	// Keep JSON response for backward compatibility
	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresIn: 86400, // 24 hours
		Username:  user.Username,
	})
}

// failedAttempt records the failure, applies the progressive delay and
// answers with a uniform 401 so callers cannot probe which usernames exist.
func (h *AuthHandler) failedAttempt(c *gin.Context, ctx context.Context, key, ip, username, reason string) {
	result, err := h.backoff.RegisterAttempt(ctx, key, false, ip, &username, reason)
	if err != nil {
		c.Error(err)
	}

	if result.Blocked {
		if h.publisher != nil {
			h.publisher.LoginBlocked(ip, &username, result.FailCount)
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "temporarily blocked"})
		return
	}

	if result.Delay > 0 {
		timer := time.NewTimer(result.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.Request.Context().Done():
		}
	}

	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
}
