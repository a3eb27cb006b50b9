package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hallcall/hallcall-api/internal/models"
	"github.com/hallcall/hallcall-api/internal/store"
	"github.com/hallcall/hallcall-api/pkg/audit"
	"github.com/hallcall/hallcall-api/pkg/auth"
	"github.com/hallcall/hallcall-api/pkg/errors"
	"github.com/hallcall/hallcall-api/pkg/logger"
	"github.com/hallcall/hallcall-api/pkg/metrics"
)

type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name" binding:"required,max=120"`
	Company  string `json:"company" binding:"max=120"`
}

type VerifyCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,otp"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,otp"`
	NewPassword string `json:"new_password" binding:"required"`
}

// Signup stores a pending registration and emails a verification code. The
// account is created by VerifySignup.
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	if err := auth.CheckPasswordStrength(req.Password); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	email := auth.NormalizeEmail(req.Email)

	ctx, cancel := h.dbContext(c)
	defer cancel()

	exists, err := h.store.EmailExists(ctx, email)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	if exists {
		errors.Conflict(c, "email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	code, err := h.otp.Issue(ctx, auth.PurposeSignup, auth.OTPRecord{
		Email:        email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Company:      req.Company,
	})
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	metrics.RecordOTPIssued(string(auth.PurposeSignup))

	if err := h.mailer.SendSignupCode(c.Request.Context(), email, req.FullName, code); err != nil {
		h.vendorError(c, "resend", err)
		return
	}

	h.logger.Info("Signup code sent", logger.MaskEmail("email", email))
	c.JSON(http.StatusAccepted, gin.H{"message": "verification code sent"})
}

func otpError(c *gin.Context, err error) bool {
	switch {
	case stderrors.Is(err, auth.ErrOTPInvalid), stderrors.Is(err, auth.ErrOTPExpired):
		errors.BadRequest(c, err.Error())
	case stderrors.Is(err, auth.ErrOTPLocked):
		errors.TooManyRequests(c, err.Error())
	default:
		return false
	}
	return true
}

// VerifySignup consumes the code, creates the user with a free profile and
// signs them in.
func (h *Handler) VerifySignup(c *gin.Context) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	rec, err := h.otp.Verify(ctx, auth.PurposeSignup, req.Email, req.Code)
	if err != nil {
		if !otpError(c, err) {
			errors.InternalError(c, err, h.logger)
		}
		return
	}

	user, err := h.store.CreateUser(ctx, rec.Email, rec.PasswordHash, auth.RoleOwner, rec.FullName, rec.Company, models.DefaultPlan)
	if stderrors.Is(err, store.ErrEmailTaken) {
		errors.Conflict(c, "email already registered")
		return
	}
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	resp, err := h.issueTokens(ctx, user)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	audit.Log(ctx, h.store.Client(), user.ID, audit.ActionSignup, "user", user.ID, nil)
	h.logger.Info("User registered", logger.Tenant(user.ID)...)
	c.JSON(http.StatusCreated, resp)
}

// ForgotPassword always answers 200 so callers cannot tell which emails
// have an account.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	email := auth.NormalizeEmail(req.Email)
	accepted := gin.H{"message": "if the account exists, a reset code has been sent"}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	user, err := h.store.UserByEmail(ctx, email)
	if err != nil {
		if !stderrors.Is(err, store.ErrNotFound) {
			h.logger.Error("Failed to look up user for reset", zap.Error(err))
		}
		c.JSON(http.StatusOK, accepted)
		return
	}

	code, err := h.otp.Issue(ctx, auth.PurposePasswordReset, auth.OTPRecord{Email: email, UserID: user.ID})
	if err != nil {
		h.logger.Error("Failed to issue reset code", zap.Error(err))
		c.JSON(http.StatusOK, accepted)
		return
	}
	metrics.RecordOTPIssued(string(auth.PurposePasswordReset))

	if err := h.mailer.SendPasswordResetCode(c.Request.Context(), email, code); err != nil {
		h.logger.Error("Failed to send reset code", zap.Error(err), logger.MaskEmail("email", email))
	}
	c.JSON(http.StatusOK, accepted)
}

// ResetPassword consumes a reset code, sets the new password and signs out
// every session.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}
	if err := auth.CheckPasswordStrength(req.NewPassword); err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	ctx, cancel := h.dbContext(c)
	defer cancel()

	rec, err := h.otp.Verify(ctx, auth.PurposePasswordReset, req.Email, req.Code)
	if err != nil {
		if !otpError(c, err) {
			errors.InternalError(c, err, h.logger)
		}
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	if err := h.store.UpdatePassword(ctx, rec.UserID, hash); err != nil {
		h.storeError(c, err, "user")
		return
	}
	if err := h.refresh.RevokeAll(ctx, rec.UserID); err != nil {
		h.logger.Error("Failed to revoke sessions after reset", zap.Error(err))
	}

	audit.Log(ctx, h.store.Client(), rec.UserID, audit.ActionReset, "user", rec.UserID, nil)
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}
