package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/middleware"
	"github.com/snaprepair/backend/internal/models"
)

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// currentActor aborts with 401 when the route is missing auth.
func currentActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		apperrors.AbortWithUnauthorized(c, "User not authenticated")
	}
	return actor, ok
}
