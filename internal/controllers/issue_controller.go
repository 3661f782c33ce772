package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/models"
	"github.com/snaprepair/backend/internal/services"
)

type IssueController struct {
	issues   *services.IssueService
	feedback *services.FeedbackService
}

func NewIssueController(issues *services.IssueService, feedback *services.FeedbackService) *IssueController {
	return &IssueController{issues: issues, feedback: feedback}
}

type DetectDeviceRequest struct {
	MediaURL string `json:"mediaUrl" binding:"required"`
}

type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type PaymentRequest struct {
	AmountMinorUnits int64 `json:"amountMinorUnits" binding:"required"`
}

type FeedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CreateIssue opens a new issue for the caller
func (ic *IssueController) CreateIssue(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req services.CreateIssueInput
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	issue, err := ic.issues.CreateIssue(c.Request.Context(), actor, req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusCreated, issue)
}

// DetectDevice guesses the device type from an uploaded image URL
func (ic *IssueController) DetectDevice(c *gin.Context) {
	if _, ok := currentActor(c); !ok {
		return
	}

	var req DetectDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	respondData(c, http.StatusOK, ic.issues.DetectDevice(c.Request.Context(), req.MediaURL))
}

// GetMyIssues returns the caller's own issues, newest first
func (ic *IssueController) GetMyIssues(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	issues, err := ic.issues.ListIssuesForOwner(c.Request.Context(), actor)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, issues)
}

// GetAllIssues is the expert dashboard (?filter=all|open|resolved&q=)
func (ic *IssueController) GetAllIssues(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	filter, valid := models.ParseIssueFilter(c.DefaultQuery("filter", string(models.FilterAll)))
	if !valid {
		apperrors.AbortWithBadRequest(c, "filter must be one of all, open, resolved", nil)
		return
	}

	issues, err := ic.issues.ListIssues(c.Request.Context(), actor, models.IssueQuery{
		Filter: filter,
		Search: c.Query("q"),
	})
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, issues)
}

func (ic *IssueController) GetIssue(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	issue, err := ic.issues.GetIssue(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, issue)
}

func (ic *IssueController) GetMessages(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	messages, err := ic.issues.ListMessages(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, messages)
}

// PostMessage records a chat message. Experts reply as themselves; anyone
// else is the submitter side of the conversation and may get an automatic
// answer while the issue is in assisted mode.
func (ic *IssueController) PostMessage(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	issueID := c.Param("id")
	if actor.IsExpert() {
		msg, err := ic.issues.RecordExpertReply(c.Request.Context(), actor, issueID, req.Text)
		if err != nil {
			apperrors.Respond(c, err)
			return
		}
		respondData(c, http.StatusCreated, gin.H{"message": msg})
		return
	}

	msg, reply, err := ic.issues.AskAssistant(c.Request.Context(), actor, issueID, req.Text)
	if err != nil && msg == nil {
		apperrors.Respond(c, err)
		return
	}
	data := gin.H{"message": msg, "reply": reply}
	if err != nil {
		// the user's message is stored; only the automatic answer failed
		data["replyError"] = err.Error()
	}
	respondData(c, http.StatusCreated, data)
}

// Diagnose runs the vision model over the issue's media
func (ic *IssueController) Diagnose(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	issue, err := ic.issues.Diagnose(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, issue)
}

// AttachDiagnosis lets an expert set the diagnosis by hand
func (ic *IssueController) AttachDiagnosis(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if !actor.IsExpert() {
		apperrors.Respond(c, apperrors.Forbidden("only experts can attach a diagnosis"))
		return
	}

	var req models.Diagnosis
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	issue, err := ic.issues.AttachDiagnosis(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, issue)
}

func (ic *IssueController) RequestPayment(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	issue, err := ic.issues.RequestPayment(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"issue":            issue,
		"amountMinorUnits": ic.issues.ConsultationPrice(),
	})
}

func (ic *IssueController) RecordPayment(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	payment, err := ic.issues.RecordPayment(c.Request.Context(), actor, c.Param("id"), req.AmountMinorUnits)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusCreated, payment)
}

func (ic *IssueController) GetPayments(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	payments, err := ic.issues.ListPayments(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, payments)
}

func (ic *IssueController) CloseIssue(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	issue, err := ic.issues.CloseIssue(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, issue)
}

func (ic *IssueController) SubmitFeedback(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	feedback, err := ic.issues.SubmitFeedback(c.Request.Context(), actor, c.Param("id"), req.Rating, req.Comment)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusCreated, feedback)
}

func (ic *IssueController) GetFeedback(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	feedback, err := ic.issues.ListFeedback(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, feedback)
}

// GetFeedbackSummary returns rating insights across all issues (experts only)
func (ic *IssueController) GetFeedbackSummary(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	summary, err := ic.feedback.Summary(c.Request.Context(), actor)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, summary)
}

// GetSnapshot is the pull endpoint: issue state plus the ordered log
func (ic *IssueController) GetSnapshot(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	snapshot, err := ic.issues.Snapshot(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	respondData(c, http.StatusOK, snapshot)
}
