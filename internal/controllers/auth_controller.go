package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/middleware"
	"github.com/snaprepair/backend/internal/models"
	"github.com/snaprepair/backend/internal/store"
)

type AuthController struct {
	users  store.UserStore
	tokens *middleware.TokenIssuer
}

func NewAuthController(users store.UserStore, tokens *middleware.TokenIssuer) *AuthController {
	return &AuthController{users: users, tokens: tokens}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
}

type AuthResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6"`
}

func (ac *AuthController) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	user, err := ac.users.GetByEmail(c.Request.Context(), normalizeEmail(req.Email))
	if err != nil {
		apperrors.AbortWithUnauthorized(c, "Invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		apperrors.AbortWithUnauthorized(c, "Invalid credentials")
		return
	}

	token, expiresAt, err := ac.tokens.Issue(user)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Success:   true,
		Message:   "Login successful",
		Token:     token,
		User:      *user,
		ExpiresAt: expiresAt,
	})
}

// Register creates a submitter account. Experts are provisioned through
// the seed command, never by self sign-up.
func (ac *AuthController) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	user := models.User{
		Email:    normalizeEmail(req.Email),
		Password: string(hashedPassword),
		Name:     strings.TrimSpace(req.Name),
		Phone:    strings.TrimSpace(req.Phone),
	}

	if err := ac.users.Create(c.Request.Context(), &user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			apperrors.Respond(c, apperrors.Conflict("User already exists"))
			return
		}
		apperrors.Respond(c, err)
		return
	}

	token, expiresAt, err := ac.tokens.Issue(&user)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	logger.WithUser(user.ID).Info("User registered")
	c.JSON(http.StatusCreated, AuthResponse{
		Success:   true,
		Message:   "Registration successful",
		Token:     token,
		User:      user,
		ExpiresAt: expiresAt,
	})
}

func (ac *AuthController) RefreshToken(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	// reload so a revoked expert flag is not carried forward
	user, err := ac.users.GetByID(c.Request.Context(), actor.ID)
	if err != nil {
		apperrors.AbortWithUnauthorized(c, "User not found")
		return
	}

	token, expiresAt, err := ac.tokens.Issue(user)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt,
	})
}

func (ac *AuthController) ChangePassword(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	user, err := ac.users.GetByID(c.Request.Context(), actor.ID)
	if err != nil {
		apperrors.Respond(c, apperrors.NotFound("User not found"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		apperrors.AbortWithBadRequest(c, "Current password is incorrect", nil)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	user.Password = string(hashedPassword)
	if err := ac.users.Update(c.Request.Context(), user); err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password changed successfully",
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
