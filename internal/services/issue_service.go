package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/metrics"
	"github.com/snaprepair/backend/internal/models"
	"github.com/snaprepair/backend/internal/notify"
	"github.com/snaprepair/backend/internal/store"
)

const maxUpdateAttempts = 5

// IssueServiceConfig holds the tunables of the lifecycle.
type IssueServiceConfig struct {
	DiagnoseTimeout        time.Duration
	ChatTimeout            time.Duration
	ConsultationPriceMinor int64
	Currency               string
	PaymentLockTTL         time.Duration
}

func (c *IssueServiceConfig) setDefaults() {
	if c.DiagnoseTimeout <= 0 {
		c.DiagnoseTimeout = 60 * time.Second
	}
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = 30 * time.Second
	}
	if c.ConsultationPriceMinor <= 0 {
		c.ConsultationPriceMinor = models.ConsultationPriceMinor
	}
	if c.Currency == "" {
		c.Currency = "inr"
	}
	if c.PaymentLockTTL <= 0 {
		c.PaymentLockTTL = 2 * time.Minute
	}
}

// IssueServiceDeps are the collaborators of IssueService. Diagnoser,
// Responder and Detector may be nil when no model is configured.
type IssueServiceDeps struct {
	Stores    *store.Stores
	Log       *MessageLog
	Publisher notify.Publisher
	Diagnoser Diagnoser
	Responder ChatResponder
	Detector  DeviceDetector
	Payments  PaymentProvider
	Guard     IdempotencyGuard
}

// IssueService owns every issue state change. Each mutation validates the
// caller and the current status before writing, and announces what changed.
type IssueService struct {
	issues    store.IssueStore
	payments  store.PaymentStore
	feedback  store.FeedbackStore
	log       *MessageLog
	publisher notify.Publisher
	diagnoser Diagnoser
	responder ChatResponder
	detector  DeviceDetector
	provider  PaymentProvider
	guard     IdempotencyGuard
	cfg       IssueServiceConfig
	now       func() time.Time
}

func NewIssueService(deps IssueServiceDeps, cfg IssueServiceConfig) *IssueService {
	cfg.setDefaults()
	publisher := deps.Publisher
	if publisher == nil {
		publisher = notify.Discard{}
	}
	guard := deps.Guard
	if guard == nil {
		guard = NewMemoryGuard()
	}
	provider := deps.Payments
	if provider == nil {
		provider = NewMockPaymentProvider()
	}
	log := deps.Log
	if log == nil {
		log = NewMessageLog(deps.Stores.Messages, publisher)
	}
	return &IssueService{
		issues:    deps.Stores.Issues,
		payments:  deps.Stores.Payments,
		feedback:  deps.Stores.Feedback,
		log:       log,
		publisher: publisher,
		diagnoser: deps.Diagnoser,
		responder: deps.Responder,
		detector:  deps.Detector,
		provider:  provider,
		guard:     guard,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ConsultationPrice is the fee, in minor units, a payment must match.
func (s *IssueService) ConsultationPrice() int64 {
	return s.cfg.ConsultationPriceMinor
}

// CreateIssueInput is what a submitter provides for a new issue.
type CreateIssueInput struct {
	DeviceType  string `json:"deviceType"`
	Description string `json:"description"`
	MediaURL    string `json:"mediaUrl"`
	MediaKind   string `json:"mediaKind"`
}

// --- helpers -----------------------------------------------------------------

func storeError(err error, what, id string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NotFound("%s %s not found", what, id)
	case errors.Is(err, store.ErrIssueClosed):
		return apperrors.Conflict("issue %s is closed", id)
	}
	return err
}

func isParticipant(actor models.Actor, issue *models.Issue) bool {
	return actor.IsExpert() || actor.ID == issue.OwnerID
}

// loadForActor fetches an issue the actor may see.
func (s *IssueService) loadForActor(ctx context.Context, actor models.Actor, issueID string) (*models.Issue, error) {
	issue, err := s.issues.GetByID(ctx, issueID)
	if err != nil {
		return nil, storeError(err, "issue", issueID)
	}
	if !isParticipant(actor, issue) {
		return nil, apperrors.Forbidden("not a participant of issue %s", issueID)
	}
	return issue, nil
}

// mutation is applied to a fresh copy of the issue. It reports whether it
// changed anything; unchanged issues are not written.
type mutation func(issue *models.Issue) (bool, error)

func newUpdateBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(bo, maxUpdateAttempts-1), ctx)
}

// mutate reads, applies fn and writes back, retrying with backoff when
// another writer updated the issue in between. It returns the stored issue
// and the status it had before fn ran.
func (s *IssueService) mutate(ctx context.Context, issueID string, fn mutation) (*models.Issue, models.IssueStatus, bool, error) {
	var (
		issue    *models.Issue
		previous models.IssueStatus
		changed  bool
	)
	err := backoff.Retry(func() error {
		current, err := s.issues.GetByID(ctx, issueID)
		if err != nil {
			return backoff.Permanent(storeError(err, "issue", issueID))
		}
		previous = current.Status

		changed, err = fn(current)
		if err != nil {
			return backoff.Permanent(err)
		}
		issue = current
		if !changed {
			return nil
		}

		err = s.issues.Update(ctx, current)
		if errors.Is(err, store.ErrStaleIssue) {
			return err
		}
		if err != nil {
			return backoff.Permanent(storeError(err, "issue", issueID))
		}
		return nil
	}, newUpdateBackOff(ctx))
	if errors.Is(err, store.ErrStaleIssue) {
		return nil, "", false, apperrors.Conflict("issue %s is being updated concurrently, retry", issueID)
	}
	if err != nil {
		return nil, "", false, err
	}

	if changed && issue.Status != previous {
		metrics.StatusTransitions.WithLabelValues(string(previous), string(issue.Status)).Inc()
		s.publisher.Publish(ctx, notify.StatusChanged(issue.ID, issue.Status))
		logger.WithIssue(issue.ID, "issue_service").WithFields(map[string]interface{}{
			"from": previous,
			"to":   issue.Status,
		}).Info("Issue status changed")
	}
	return issue, previous, changed, nil
}

func rejectClosed(issue *models.Issue) error {
	if issue.Status == models.StatusClosed {
		return apperrors.Conflict("issue %s is closed", issue.ID)
	}
	return nil
}

// advanceTo moves the issue forward to target; it never moves backward.
func advanceTo(issue *models.Issue, target models.IssueStatus) bool {
	if issue.Status.Rank() >= target.Rank() || !issue.Status.CanTransitionTo(target) {
		return false
	}
	issue.Status = target
	return true
}

func formatPrice(minor int64) string {
	if minor%100 == 0 {
		return fmt.Sprintf("₹%d", minor/100)
	}
	return fmt.Sprintf("₹%d.%02d", minor/100, minor%100)
}

// appendToOpen adds a conversation message unless the issue is closed.
func (s *IssueService) appendToOpen(ctx context.Context, issueID string, sender models.Sender, text string) (*models.Message, error) {
	msg, err := s.log.AppendToOpen(ctx, issueID, sender, text, nil)
	if err != nil {
		return nil, storeError(err, "issue", issueID)
	}
	return msg, nil
}

func (s *IssueService) announce(ctx context.Context, issueID, text string) {
	if _, err := s.log.Append(ctx, issueID, models.SenderSystem, text, nil); err != nil {
		logger.WithError(err, "issue_service").WithField("issue_id", issueID).Error("Failed to append system message")
	}
}

// --- lifecycle ---------------------------------------------------------------

// CreateIssue opens a new issue owned by actor.
func (s *IssueService) CreateIssue(ctx context.Context, actor models.Actor, in CreateIssueInput) (*models.Issue, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, apperrors.Validation("description is required")
	}
	deviceType, ok := models.ParseDeviceType(in.DeviceType)
	if !ok {
		return nil, apperrors.Validation("unsupported device type %q", in.DeviceType)
	}
	mediaURL := strings.TrimSpace(in.MediaURL)
	if mediaURL == "" {
		return nil, apperrors.Validation("media is required")
	}
	mediaKind := models.MediaKind(strings.ToLower(strings.TrimSpace(in.MediaKind)))
	if mediaKind == "" {
		mediaKind = models.MediaPhoto
	}
	if !mediaKind.Valid() {
		return nil, apperrors.Validation("media kind must be photo or video")
	}

	issue := &models.Issue{
		OwnerID:      actor.ID,
		DeviceType:   deviceType,
		Description:  description,
		MediaURL:     mediaURL,
		MediaKind:    mediaKind,
		Status:       models.StatusOpen,
		AssistedMode: true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.issues.Create(ctx, issue); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}

	metrics.IssuesCreated.Inc()
	logger.WithIssue(issue.ID, "issue_service").WithFields(map[string]interface{}{
		"owner_id":    actor.ID,
		"device_type": deviceType,
	}).Info("Issue created")
	return issue, nil
}

// AttachDiagnosis stores d on the issue and moves an open issue to
// diagnosed. Attaching the same diagnosis again changes nothing.
func (s *IssueService) AttachDiagnosis(ctx context.Context, issueID string, d models.Diagnosis) (*models.Issue, error) {
	if err := d.Validate(); err != nil {
		return nil, apperrors.Validation("invalid diagnosis: %v", err)
	}
	d = d.Clone()
	d.RecommendedAction, _ = models.ParseRecommendedAction(string(d.RecommendedAction))

	issue, _, changed, err := s.mutate(ctx, issueID, func(issue *models.Issue) (bool, error) {
		if err := rejectClosed(issue); err != nil {
			return false, err
		}
		if issue.Diagnosis != nil && issue.Diagnosis.Equal(d) {
			return false, nil
		}
		issue.Diagnosis = &d
		advanceTo(issue, models.StatusDiagnosed)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publisher.Publish(ctx, notify.DiagnosisAttached(issue.ID, d))
		s.announce(ctx, issue.ID, fmt.Sprintf("AI Diagnosis Complete. Recommended Action: %s", d.RecommendedAction.Label()))
	}
	return issue, nil
}

// RecordExpertReply appends an expert message. The first human reply takes
// the issue out of assisted mode for good.
func (s *IssueService) RecordExpertReply(ctx context.Context, actor models.Actor, issueID, text string) (*models.Message, error) {
	if !actor.IsExpert() {
		return nil, apperrors.Forbidden("only experts can reply as expert")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Validation("message text is required")
	}

	_, _, _, err := s.mutate(ctx, issueID, func(issue *models.Issue) (bool, error) {
		if err := rejectClosed(issue); err != nil {
			return false, err
		}
		changed := advanceTo(issue, models.StatusExpertReply)
		if issue.AssistedMode {
			issue.AssistedMode = false
			changed = true
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}

	return s.appendToOpen(ctx, issueID, models.SenderExpert, text)
}

// RecordUserReply appends a submitter message without changing status.
func (s *IssueService) RecordUserReply(ctx context.Context, actor models.Actor, issueID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Validation("message text is required")
	}
	issue, err := s.loadForActor(ctx, actor, issueID)
	if err != nil {
		return nil, err
	}
	if err := rejectClosed(issue); err != nil {
		return nil, err
	}
	return s.appendToOpen(ctx, issueID, models.SenderSubmitter, text)
}

// AskAssistant records the user's message and, while the issue is in
// assisted mode, answers it with the chat model. The answer is logged as an
// expert message. A nil reply means no automatic answer was produced.
//
// When the latest message is the same unanswered submitter text, it is
// answered again instead of being appended twice.
func (s *IssueService) AskAssistant(ctx context.Context, actor models.Actor, issueID, text string) (*models.Message, *models.Message, error) {
	text = strings.TrimSpace(text)
	if s.responder == nil || text == "" {
		userMsg, err := s.RecordUserReply(ctx, actor, issueID, text)
		return userMsg, nil, err
	}

	issue, err := s.loadForActor(ctx, actor, issueID)
	if err != nil {
		return nil, nil, err
	}
	if err := rejectClosed(issue); err != nil {
		return nil, nil, err
	}
	if !issue.AssistedMode {
		userMsg, err := s.appendToOpen(ctx, issueID, models.SenderSubmitter, text)
		return userMsg, nil, err
	}

	history, err := s.log.ListFor(ctx, issueID)
	if err != nil {
		return nil, nil, err
	}
	var userMsg *models.Message
	if n := len(history); n > 0 && history[n-1].Sender == models.SenderSubmitter && history[n-1].Text == text {
		last := history[n-1]
		userMsg = &last
	} else {
		userMsg, err = s.appendToOpen(ctx, issueID, models.SenderSubmitter, text)
		if err != nil {
			return nil, nil, err
		}
		history = append(history, *userMsg)
	}

	chatCtx, cancel := context.WithTimeout(ctx, s.cfg.ChatTimeout)
	defer cancel()
	answer, err := s.responder.Respond(chatCtx, issueID, buildConversation(issue, history))
	if err != nil {
		return userMsg, nil, apperrors.Upstream(err, "assistant is unavailable, please try again")
	}

	// an expert may have joined while the model was answering
	current, err := s.issues.GetByID(ctx, issueID)
	if err != nil {
		return userMsg, nil, storeError(err, "issue", issueID)
	}
	if !current.AssistedMode || current.Status == models.StatusClosed {
		return userMsg, nil, nil
	}

	reply, err := s.appendToOpen(ctx, issueID, models.SenderExpert, answer)
	if err != nil {
		if apperrors.IsConflict(err) {
			return userMsg, nil, nil
		}
		return userMsg, nil, err
	}
	return userMsg, reply, nil
}

// buildConversation turns the message log into chat turns: submitter
// messages are the user, everything else is the assistant.
func buildConversation(issue *models.Issue, history []models.Message) []ChatTurn {
	diagnosisJSON := "null"
	if issue.Diagnosis != nil {
		if b, err := json.Marshal(issue.Diagnosis); err == nil {
			diagnosisJSON = string(b)
		}
	}

	turns := make([]ChatTurn, 0, len(history)+1)
	turns = append(turns, ChatTurn{
		Role:    RoleSystem,
		Content: fmt.Sprintf(ASSISTANT_CONTEXT_PROMPT, issue.DeviceType, issue.Description, diagnosisJSON),
	})
	for _, m := range history {
		role := RoleAssistant
		if m.Sender == models.SenderSubmitter {
			role = RoleUser
		}
		turns = append(turns, ChatTurn{Role: role, Content: m.Text})
	}
	return turns
}

// Diagnose runs the diagnoser under a timeout and attaches the result. On
// failure the issue is left as it was.
func (s *IssueService) Diagnose(ctx context.Context, actor models.Actor, issueID string) (*models.Issue, error) {
	issue, err := s.loadForActor(ctx, actor, issueID)
	if err != nil {
		return nil, err
	}
	if err := rejectClosed(issue); err != nil {
		return nil, err
	}
	if s.diagnoser == nil {
		return nil, apperrors.Upstream(errors.New("no diagnoser configured"), "diagnosis is unavailable")
	}

	diagCtx, cancel := context.WithTimeout(ctx, s.cfg.DiagnoseTimeout)
	defer cancel()
	d, err := s.diagnoser.Diagnose(diagCtx, issue)
	if err != nil {
		return nil, apperrors.Upstream(err, "diagnosis failed, please retry")
	}
	return s.AttachDiagnosis(ctx, issueID, d)
}

// DetectDevice guesses the device shown at mediaURL. It never fails.
func (s *IssueService) DetectDevice(ctx context.Context, mediaURL string) DeviceGuess {
	if s.detector == nil || strings.TrimSpace(mediaURL) == "" {
		return DeviceGuess{DeviceType: models.DeviceOther}
	}
	detectCtx, cancel := context.WithTimeout(ctx, s.cfg.DiagnoseTimeout)
	defer cancel()
	return s.detector.DetectDevice(detectCtx, mediaURL)
}

// RequestPayment lets an expert ask the submitter to pay for a consultation.
func (s *IssueService) RequestPayment(ctx context.Context, actor models.Actor, issueID string) (*models.Issue, error) {
	if !actor.IsExpert() {
		return nil, apperrors.Forbidden("only experts can request payment")
	}

	issue, _, changed, err := s.mutate(ctx, issueID, func(issue *models.Issue) (bool, error) {
		if err := rejectClosed(issue); err != nil {
			return false, err
		}
		return advanceTo(issue, models.StatusPaymentNeeded), nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.announce(ctx, issue.ID, fmt.Sprintf("Expert has requested a consultation fee of %s to continue.", formatPrice(s.cfg.ConsultationPriceMinor)))
	}
	return issue, nil
}

// RecordPayment charges the consultation fee. The charge for an issue is
// captured at most once: a paid issue returns its existing payment, and a
// concurrent attempt is refused while another is in flight.
func (s *IssueService) RecordPayment(ctx context.Context, actor models.Actor, issueID string, amount int64) (*models.Payment, error) {
	issue, err := s.loadForActor(ctx, actor, issueID)
	if err != nil {
		return nil, err
	}
	if err := rejectClosed(issue); err != nil {
		return nil, err
	}
	if amount != s.cfg.ConsultationPriceMinor {
		return nil, apperrors.Validation("amount must be %d", s.cfg.ConsultationPriceMinor)
	}
	if issue.Status == models.StatusConsultationPaid {
		return s.completedPayment(ctx, issueID)
	}

	key := fmt.Sprintf("consultation:%s:%d", issueID, amount)
	acquired, err := s.guard.Acquire(ctx, key, s.cfg.PaymentLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire payment guard: %w", err)
	}
	if !acquired {
		return nil, apperrors.Conflict("a payment for this issue is already in progress")
	}
	defer func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			logger.WithError(err, "issue_service").Warn("Failed to release payment guard")
		}
	}()

	// another attempt may have completed before we got the guard, or an
	// earlier attempt captured the charge but never advanced the issue
	if existing, err := s.payments.FindCompleted(ctx, issueID); err == nil {
		if err := s.markPaid(ctx, issueID); err != nil {
			return existing, err
		}
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find completed payment: %w", err)
	}

	payment := &models.Payment{
		IssueID:          issueID,
		PayerID:          actor.ID,
		AmountMinorUnits: amount,
		Currency:         s.cfg.Currency,
		Status:           models.PaymentPending,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	result, err := s.provider.Charge(ctx, ChargeRequest{
		IssueID:        issueID,
		PayerID:        actor.ID,
		AmountMinor:    amount,
		Currency:       s.cfg.Currency,
		IdempotencyKey: fmt.Sprintf("%s:%s", issueID, payment.ID),
	})
	if err != nil || !result.Succeeded {
		reason := "declined"
		if err != nil {
			reason = err.Error()
		} else if result.FailureReason != "" {
			reason = result.FailureReason
		}
		if err == nil {
			err = errors.New(reason)
		}
		payment.Status = models.PaymentFailed
		payment.FailureReason = reason
		if result != nil {
			payment.ProviderRef = result.Reference
		}
		if updateErr := s.payments.Update(context.WithoutCancel(ctx), payment); updateErr != nil {
			logger.WithError(updateErr, "issue_service").WithField("payment_id", payment.ID).Error("Failed to mark payment failed")
		}
		metrics.Payments.WithLabelValues("failed").Inc()
		return nil, apperrors.Upstream(err, "payment failed").WithDetail("payment_id", payment.ID)
	}

	payment.Status = models.PaymentCompleted
	payment.ProviderRef = result.Reference
	if err := s.payments.Update(context.WithoutCancel(ctx), payment); err != nil {
		return nil, fmt.Errorf("mark payment completed: %w", err)
	}
	metrics.Payments.WithLabelValues("completed").Inc()

	if err := s.markPaid(ctx, issueID); err != nil {
		return payment, err
	}

	logger.WithIssue(issueID, "issue_service").WithFields(map[string]interface{}{
		"payment_id":   payment.ID,
		"provider_ref": payment.ProviderRef,
	}).Info("Consultation paid")
	return payment, nil
}

// markPaid moves the issue to consultation_paid and posts the booking
// message once. A captured charge must reach the issue even if the caller
// has gone away, so it ignores cancellation of ctx.
func (s *IssueService) markPaid(ctx context.Context, issueID string) error {
	ctx = context.WithoutCancel(ctx)
	_, _, changed, err := s.mutate(ctx, issueID, func(issue *models.Issue) (bool, error) {
		if err := rejectClosed(issue); err != nil {
			return false, err
		}
		return advanceTo(issue, models.StatusConsultationPaid), nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.announce(ctx, issueID, "Consultation booked. An expert will contact you shortly.")
	}
	return nil
}

func (s *IssueService) completedPayment(ctx context.Context, issueID string) (*models.Payment, error) {
	payment, err := s.payments.FindCompleted(ctx, issueID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.Conflict("issue %s is already paid", issueID)
		}
		return nil, fmt.Errorf("find completed payment: %w", err)
	}
	return payment, nil
}

// CloseIssue marks the issue resolved. Closed is terminal.
func (s *IssueService) CloseIssue(ctx context.Context, actor models.Actor, issueID string) (*models.Issue, error) {
	if !actor.IsExpert() {
		return nil, apperrors.Forbidden("only experts can close issues")
	}

	issue, _, _, err := s.mutate(ctx, issueID, func(issue *models.Issue) (bool, error) {
		if issue.Status == models.StatusClosed {
			return false, apperrors.Conflict("issue %s is already closed", issue.ID)
		}
		issue.Status = models.StatusClosed
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, issue.ID, fmt.Sprintf("Issue closed by %s.", actor.DisplayName))
	return issue, nil
}

// SubmitFeedback records the owner's rating of a closed issue, once.
func (s *IssueService) SubmitFeedback(ctx context.Context, actor models.Actor, issueID string, rating int, comment string) (*models.Feedback, error) {
	if rating < models.MinRating || rating > models.MaxRating {
		return nil, apperrors.Validation("rating must be between %d and %d", models.MinRating, models.MaxRating)
	}
	issue, err := s.issues.GetByID(ctx, issueID)
	if err != nil {
		return nil, storeError(err, "issue", issueID)
	}
	if issue.OwnerID != actor.ID {
		return nil, apperrors.Forbidden("only the issue owner can leave feedback")
	}
	if issue.Status != models.StatusClosed {
		return nil, apperrors.Conflict("feedback is accepted once the issue is closed")
	}

	feedback := &models.Feedback{
		IssueID:   issueID,
		UserID:    actor.ID,
		Rating:    rating,
		CreatedAt: s.now().UTC(),
	}
	if comment = strings.TrimSpace(comment); comment != "" {
		feedback.Comment = &comment
	}
	if err := s.feedback.Create(ctx, feedback); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperrors.Conflict("feedback already submitted for issue %s", issueID)
		}
		return nil, fmt.Errorf("create feedback: %w", err)
	}
	return feedback, nil
}

// --- reads -------------------------------------------------------------------

func (s *IssueService) GetIssue(ctx context.Context, actor models.Actor, issueID string) (*models.Issue, error) {
	return s.loadForActor(ctx, actor, issueID)
}

// ListIssuesForOwner returns the actor's own issues, newest first.
func (s *IssueService) ListIssuesForOwner(ctx context.Context, actor models.Actor) ([]models.Issue, error) {
	issues, err := s.issues.ListByOwner(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}

// ListIssues is the expert dashboard: every issue, filtered and searched.
func (s *IssueService) ListIssues(ctx context.Context, actor models.Actor, query models.IssueQuery) ([]models.Issue, error) {
	if !actor.IsExpert() {
		return nil, apperrors.Forbidden("only experts can list all issues")
	}
	if query.Filter == "" {
		query.Filter = models.FilterAll
	}
	issues, err := s.issues.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	return issues, nil
}

func (s *IssueService) ListMessages(ctx context.Context, actor models.Actor, issueID string) ([]models.Message, error) {
	if _, err := s.loadForActor(ctx, actor, issueID); err != nil {
		return nil, err
	}
	return s.log.ListFor(ctx, issueID)
}

func (s *IssueService) ListPayments(ctx context.Context, actor models.Actor, issueID string) ([]models.Payment, error) {
	if _, err := s.loadForActor(ctx, actor, issueID); err != nil {
		return nil, err
	}
	payments, err := s.payments.ListByIssue(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

func (s *IssueService) ListFeedback(ctx context.Context, actor models.Actor, issueID string) ([]models.Feedback, error) {
	if _, err := s.loadForActor(ctx, actor, issueID); err != nil {
		return nil, err
	}
	feedback, err := s.feedback.ListByIssue(ctx, issueID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return feedback, nil
}

// Snapshot is the pull view of an issue: current state and ordered log.
func (s *IssueService) Snapshot(ctx context.Context, actor models.Actor, issueID string) (*notify.Snapshot, error) {
	issue, err := s.loadForActor(ctx, actor, issueID)
	if err != nil {
		return nil, err
	}
	messages, err := s.log.ListFor(ctx, issueID)
	if err != nil {
		return nil, err
	}
	return &notify.Snapshot{Issue: issue, Messages: messages}, nil
}
