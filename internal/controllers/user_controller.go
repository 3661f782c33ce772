package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/store"
)

type UserController struct {
	users store.UserStore
}

func NewUserController(users store.UserStore) *UserController {
	return &UserController{users: users}
}

// UpdateUserRequest changes profile fields. The expert flag is not
// editable here.
type UpdateUserRequest struct {
	Name  *string `json:"name"`
	Phone *string `json:"phone"`
}

func (uc *UserController) GetCurrentUser(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	user, err := uc.users.GetByID(c.Request.Context(), actor.ID)
	if err != nil {
		apperrors.Respond(c, apperrors.NotFound("User not found"))
		return
	}

	respondData(c, http.StatusOK, user)
}

func (uc *UserController) UpdateCurrentUser(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	user, err := uc.users.GetByID(c.Request.Context(), actor.ID)
	if err != nil {
		apperrors.Respond(c, apperrors.NotFound("User not found"))
		return
	}

	// Update fields if provided
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			apperrors.AbortWithBadRequest(c, "name cannot be empty", nil)
			return
		}
		user.Name = name
	}
	if req.Phone != nil {
		user.Phone = strings.TrimSpace(*req.Phone)
	}

	if err := uc.users.Update(c.Request.Context(), user); err != nil {
		apperrors.Respond(c, err)
		return
	}

	respondData(c, http.StatusOK, user)
}
