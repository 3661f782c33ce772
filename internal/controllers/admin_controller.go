package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/services"
)

// LLMCallLog is the view of model calls kept for debugging.
type LLMCallLog interface {
	GetAPICalls() []services.LLMAPICall
	ClearAPICalls()
}

type AdminController struct {
	calls LLMCallLog
}

func NewAdminController(calls LLMCallLog) *AdminController {
	return &AdminController{calls: calls}
}

// GetLLMAPICalls returns the recent model calls (experts only)
func (ac *AdminController) GetLLMAPICalls(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if !actor.IsExpert() {
		apperrors.Respond(c, apperrors.Forbidden("expert access required"))
		return
	}

	calls := []services.LLMAPICall{}
	if ac.calls != nil {
		calls = ac.calls.GetAPICalls()
	}
	c.JSON(http.StatusOK, gin.H{
		"calls": calls,
		"total": len(calls),
	})
}

func (ac *AdminController) ClearLLMAPICalls(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if !actor.IsExpert() {
		apperrors.Respond(c, apperrors.Forbidden("expert access required"))
		return
	}

	if ac.calls != nil {
		ac.calls.ClearAPICalls()
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "LLM API calls cleared",
	})
}
