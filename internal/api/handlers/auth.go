package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/auth"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	User         UserInfo  `json:"user"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// issueTokens creates an access token and a stored refresh token for user.
func (h *Handler) issueTokens(ctx context.Context, user *models.User) (*AuthResponse, error) {
	accessToken, expiresAt, err := h.issuer.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	refreshToken, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := h.refresh.Store(ctx, user.ID, refreshToken); err != nil {
		return nil, err
	}
	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         UserInfo{ID: user.ID, Email: user.Email, Role: user.Role},
		ExpiresAt:    expiresAt,
	}, nil
}

func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	user, err := h.store.UserByEmail(ctx, auth.NormalizeEmail(req.Email))
	if stderrors.Is(err, store.ErrNotFound) {
		errors.Unauthorized(c, "invalid credentials")
		return
	}
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		errors.Unauthorized(c, "invalid credentials")
		return
	}
	if !user.IsActive {
		errors.Forbidden(c, "account is inactive")
		return
	}

	resp, err := h.issueTokens(ctx, user)
	if err != nil {
		h.logger.Error("Failed to issue tokens", zap.Error(err))
		errors.InternalError(c, err, h.logger)
		return
	}

	if err := h.store.TouchLogin(ctx, user.ID); err != nil {
		h.logger.Warn("Failed to record login time", zap.Error(err))
	}
	audit.Log(ctx, h.store.Client(), user.ID, audit.ActionLogin, "user", user.ID, nil)

	c.JSON(http.StatusOK, resp)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is returned.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	userID, err := h.refresh.Verify(ctx, req.RefreshToken)
	if err != nil {
		errors.Unauthorized(c, "invalid refresh token")
		return
	}

	user, err := h.store.User(ctx, userID)
	if err != nil {
		errors.Unauthorized(c, "invalid refresh token")
		return
	}
	if !user.IsActive {
		errors.Forbidden(c, "account is inactive")
		return
	}

	if err := h.refresh.Revoke(ctx, req.RefreshToken); err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	resp, err := h.issueTokens(ctx, user)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	if err := h.refresh.Revoke(ctx, req.RefreshToken); err != nil {
		h.logger.Error("Failed to revoke refresh token", zap.Error(err))
		errors.InternalError(c, err, h.logger)
		return
	}

	userID := currentUser(c)
	audit.Log(ctx, h.store.Client(), userID, audit.ActionLogout, "user", userID, nil)

	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

type MeResponse struct {
	User    *models.User    `json:"user"`
	Profile *models.Profile `json:"profile"`
	Plan    models.Plan     `json:"plan"`
}

func (h *Handler) Me(c *gin.Context) {
	userID := currentUser(c)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	user, err := h.store.User(ctx, userID)
	if err != nil {
		h.storeError(c, err, "user")
		return
	}
	profile, err := h.store.Profile(ctx, userID)
	if err != nil {
		h.storeError(c, err, "profile")
		return
	}

	h.logger.Debug("Profile loaded", logger.Tenant(userID)...)
	c.JSON(http.StatusOK, MeResponse{User: user, Profile: profile, Plan: models.PlanFor(profile.Plan)})
}
