package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaprepair/backend/internal/apperrors"
	"github.com/snaprepair/backend/internal/models"
	"github.com/snaprepair/backend/internal/notify"
	"github.com/snaprepair/backend/internal/store"
)

var (
	owner    = models.Actor{ID: "user-1", DisplayName: "Meera", Capability: models.CapabilitySubmitter}
	stranger = models.Actor{ID: "user-2", DisplayName: "Arjun", Capability: models.CapabilitySubmitter}
	expert   = models.Actor{ID: "expert-1", DisplayName: "Ravi", Capability: models.CapabilityExpert}
)

type fakeDiagnoser struct {
	diagnosis models.Diagnosis
	err       error
	block     bool
}

func (f *fakeDiagnoser) Diagnose(ctx context.Context, _ *models.Issue) (models.Diagnosis, error) {
	if f.block {
		<-ctx.Done()
		return models.Diagnosis{}, ctx.Err()
	}
	return f.diagnosis, f.err
}

type fakeResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	turns [][]ChatTurn
}

func (f *fakeResponder) Respond(_ context.Context, _ string, conversation []ChatTurn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, conversation)
	return f.reply, f.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *eventRecorder) Publish(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) ofType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	svc       *IssueService
	stores    *store.Stores
	provider  *MockPaymentProvider
	diagnoser *fakeDiagnoser
	responder *fakeResponder
	events    *eventRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		stores:    store.NewMemoryStores(),
		provider:  NewMockPaymentProvider(),
		diagnoser: &fakeDiagnoser{diagnosis: remoteConsult()},
		responder: &fakeResponder{reply: "Try cleaning the fan blades."},
		events:    &eventRecorder{},
	}
	env.svc = NewIssueService(IssueServiceDeps{
		Stores:    env.stores,
		Publisher: env.events,
		Diagnoser: env.diagnoser,
		Responder: env.responder,
		Payments:  env.provider,
	}, IssueServiceConfig{
		DiagnoseTimeout: 50 * time.Millisecond,
		ChatTimeout:     50 * time.Millisecond,
	})
	return env
}

func remoteConsult() models.Diagnosis {
	return models.Diagnosis{
		DeviceType:           "Fan",
		LikelyCauses:         []string{"Loose blade", "Worn bearing"},
		SafetyWarning:        "Switch off before touching the blades.",
		TroubleshootingSteps: []string{"Tighten the blade screws", "Oil the bearing"},
		RecommendedAction:    models.ActionRemoteConsult,
		EstimatedCost:        "₹300-₹800",
	}
}

func (e *testEnv) createIssue(t *testing.T) *models.Issue {
	t.Helper()
	issue, err := e.svc.CreateIssue(context.Background(), owner, CreateIssueInput{
		DeviceType:  "Fan",
		Description: "Fan makes loud noise",
		MediaURL:    "https://cdn.example.com/fan.jpg",
		MediaKind:   "photo",
	})
	require.NoError(t, err)
	return issue
}

func (e *testEnv) messages(t *testing.T, issueID string) []models.Message {
	t.Helper()
	msgs, err := e.svc.ListMessages(context.Background(), owner, issueID)
	require.NoError(t, err)
	return msgs
}

func systemMessages(msgs []models.Message) []models.Message {
	var out []models.Message
	for _, m := range msgs {
		if m.Sender == models.SenderSystem {
			out = append(out, m)
		}
	}
	return out
}

func assertKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperrors.KindOf(err), "unexpected error: %v", err)
}

func TestCreateIssueValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateIssueInput
	}{
		{"empty description", CreateIssueInput{DeviceType: "Fan", Description: "  ", MediaURL: "u"}},
		{"unknown device", CreateIssueInput{DeviceType: "Toaster", Description: "d", MediaURL: "u"}},
		{"missing media", CreateIssueInput{DeviceType: "Fan", Description: "d"}},
		{"bad media kind", CreateIssueInput{DeviceType: "Fan", Description: "d", MediaURL: "u", MediaKind: "audio"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateIssue(ctx, owner, tt.in)
			assertKind(t, err, apperrors.KindValidation)
		})
	}

	issues, err := env.svc.ListIssuesForOwner(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, issues, "rejected input must not persist anything")
}

func TestCreateIssueStartsOpen(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t)

	assert.Equal(t, models.StatusOpen, issue.Status)
	assert.Nil(t, issue.Diagnosis)
	assert.True(t, issue.AssistedMode)
	assert.Equal(t, owner.ID, issue.OwnerID)
	assert.Equal(t, models.MediaPhoto, issue.MediaKind)
}

func TestLifecycleScenarios(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A: diagnosis attached and announced
	issue := env.createIssue(t)
	issue, err := env.svc.AttachDiagnosis(ctx, issue.ID, remoteConsult())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiagnosed, issue.Status)
	require.NotNil(t, issue.Diagnosis)

	system := systemMessages(env.messages(t, issue.ID))
	require.Len(t, system, 1)
	assert.Equal(t, "AI Diagnosis Complete. Recommended Action: remote consult", system[0].Text)

	// B: payment completes and books the consultation
	payment, err := env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
	assert.Equal(t, int64(19900), payment.AmountMinorUnits)

	issue, err = env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConsultationPaid, issue.Status)
	system = systemMessages(env.messages(t, issue.ID))
	require.Len(t, system, 2)
	assert.Contains(t, system[1].Text, "Consultation booked")

	// C: expert closes, replies are rejected afterwards
	issue, err = env.svc.CloseIssue(ctx, expert, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, issue.Status)

	_, err = env.svc.RecordUserReply(ctx, owner, issue.ID, "thanks!")
	assertKind(t, err, apperrors.KindConflict)

	// D: feedback on the closed issue
	fb, err := env.svc.SubmitFeedback(ctx, owner, issue.ID, 5, "great")
	require.NoError(t, err)
	list, err := env.svc.ListFeedback(ctx, owner, issue.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fb.ID, list[0].ID)
	assert.Equal(t, 5, list[0].Rating)
	require.NotNil(t, list[0].Comment)
	assert.Equal(t, "great", *list[0].Comment)
}

func TestClosedIssueRejectsMutations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	_, err := env.svc.CloseIssue(ctx, expert, issue.ID)
	require.NoError(t, err)

	_, err = env.svc.RecordExpertReply(ctx, expert, issue.ID, "one more thing")
	assertKind(t, err, apperrors.KindConflict)
	_, err = env.svc.RecordUserReply(ctx, owner, issue.ID, "hello?")
	assertKind(t, err, apperrors.KindConflict)
	_, err = env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	assertKind(t, err, apperrors.KindConflict)
	_, err = env.svc.AttachDiagnosis(ctx, issue.ID, remoteConsult())
	assertKind(t, err, apperrors.KindConflict)
	_, err = env.svc.CloseIssue(ctx, expert, issue.ID)
	assertKind(t, err, apperrors.KindConflict)
	_, err = env.svc.RequestPayment(ctx, expert, issue.ID)
	assertKind(t, err, apperrors.KindConflict)

	assert.Equal(t, 0, env.provider.Charges())
}

func TestCloseIssueRequiresExpert(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t)

	_, err := env.svc.CloseIssue(context.Background(), owner, issue.ID)
	assertKind(t, err, apperrors.KindForbidden)

	_, err = env.svc.CloseIssue(context.Background(), expert, "missing")
	assertKind(t, err, apperrors.KindNotFound)
}

func TestAttachDiagnosisTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	_, err := env.svc.AttachDiagnosis(ctx, issue.ID, remoteConsult())
	require.NoError(t, err)
	_, err = env.svc.AttachDiagnosis(ctx, issue.ID, remoteConsult())
	require.NoError(t, err)

	assert.Len(t, systemMessages(env.messages(t, issue.ID)), 1, "same value is announced once")
	assert.Len(t, env.events.ofType(notify.EventStatusChanged), 1)

	changed := remoteConsult()
	changed.RecommendedAction = models.ActionOnSite
	issue, err = env.svc.AttachDiagnosis(ctx, issue.ID, changed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiagnosed, issue.Status)
	assert.Equal(t, models.ActionOnSite, issue.Diagnosis.RecommendedAction)
	assert.Len(t, systemMessages(env.messages(t, issue.ID)), 2)
	assert.Len(t, env.events.ofType(notify.EventStatusChanged), 1)
	assert.Len(t, env.events.ofType(notify.EventDiagnosisAttached), 2)
}

func TestDiagnosisRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	want := remoteConsult()
	_, err := env.svc.AttachDiagnosis(ctx, issue.ID, want)
	require.NoError(t, err)

	got, err := env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Diagnosis)
	assert.Equal(t, want, *got.Diagnosis)
}

func TestAttachDiagnosisRejectsInvalidAction(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t)

	bad := remoteConsult()
	bad.RecommendedAction = "wait and see"
	_, err := env.svc.AttachDiagnosis(context.Background(), issue.ID, bad)
	assertKind(t, err, apperrors.KindValidation)

	_, err = env.svc.AttachDiagnosis(context.Background(), "missing", remoteConsult())
	assertKind(t, err, apperrors.KindNotFound)
}

func TestDiagnoseFailureLeavesIssueUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	env.diagnoser.err = errors.New("model overloaded")
	_, err := env.svc.Diagnose(ctx, owner, issue.ID)
	assertKind(t, err, apperrors.KindUpstream)

	env.diagnoser.err = nil
	env.diagnoser.block = true
	_, err = env.svc.Diagnose(ctx, owner, issue.ID)
	assertKind(t, err, apperrors.KindUpstream)

	got, err := env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.Nil(t, got.Diagnosis)
	assert.Empty(t, env.messages(t, issue.ID))

	env.diagnoser.block = false
	got, err = env.svc.Diagnose(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiagnosed, got.Status)
}

func TestDiagnoseRequiresParticipant(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t)

	_, err := env.svc.Diagnose(context.Background(), stranger, issue.ID)
	assertKind(t, err, apperrors.KindForbidden)
}

func TestExpertReplyIsReentrantAndMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	_, err := env.svc.RecordExpertReply(ctx, owner, issue.ID, "I am an expert")
	assertKind(t, err, apperrors.KindForbidden)

	_, err = env.svc.RecordExpertReply(ctx, expert, issue.ID, "Can you share a video?")
	require.NoError(t, err)
	_, err = env.svc.RecordUserReply(ctx, owner, issue.ID, "Sure")
	require.NoError(t, err)
	_, err = env.svc.RecordExpertReply(ctx, expert, issue.ID, "Thanks, looks like the capacitor.")
	require.NoError(t, err)

	got, err := env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpertReply, got.Status)
	assert.False(t, got.AssistedMode)

	_, err = env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	require.NoError(t, err)
	_, err = env.svc.RecordExpertReply(ctx, expert, issue.ID, "I will call you at 5pm.")
	require.NoError(t, err)

	got, err = env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConsultationPaid, got.Status, "status never moves backward")
}

func TestUserReplyAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	_, err := env.svc.RecordUserReply(ctx, stranger, issue.ID, "hi")
	assertKind(t, err, apperrors.KindForbidden)
	_, err = env.svc.RecordUserReply(ctx, owner, issue.ID, "")
	assertKind(t, err, apperrors.KindValidation)
	_, err = env.svc.RecordUserReply(ctx, owner, "missing", "hi")
	assertKind(t, err, apperrors.KindNotFound)

	msg, err := env.svc.RecordUserReply(ctx, owner, issue.ID, "still noisy")
	require.NoError(t, err)
	assert.Equal(t, models.SenderSubmitter, msg.Sender)

	got, err := env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)
}

func TestAskAssistantUntilExpertJoins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)
	_, err := env.svc.AttachDiagnosis(ctx, issue.ID, remoteConsult())
	require.NoError(t, err)

	userMsg, reply, err := env.svc.AskAssistant(ctx, owner, issue.ID, "What should I check first?")
	require.NoError(t, err)
	require.NotNil(t, userMsg)
	require.NotNil(t, reply)
	assert.Equal(t, models.SenderExpert, reply.Sender)
	assert.Equal(t, "Try cleaning the fan blades.", reply.Text)

	require.Len(t, env.responder.turns, 1)
	turns := env.responder.turns[0]
	assert.Equal(t, RoleSystem, turns[0].Role)
	assert.Contains(t, turns[0].Content, "issue with their Fan")
	assert.Contains(t, turns[0].Content, "Fan makes loud noise")
	assert.Equal(t, RoleAssistant, turns[1].Role, "system messages are assistant turns")
	last := turns[len(turns)-1]
	assert.Equal(t, RoleUser, last.Role)
	assert.Equal(t, "What should I check first?", last.Content)

	got, err := env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.True(t, got.AssistedMode, "assistant replies keep assisted mode")
	assert.Equal(t, models.StatusDiagnosed, got.Status, "assistant replies do not change status")

	_, err = env.svc.RecordExpertReply(ctx, expert, issue.ID, "Hi, I am taking over.")
	require.NoError(t, err)

	_, reply, err = env.svc.AskAssistant(ctx, owner, issue.ID, "Great, thanks")
	require.NoError(t, err)
	assert.Nil(t, reply)
	assert.Len(t, env.responder.turns, 1, "responder is not called after a human expert replied")
}

func TestAskAssistantFailureKeepsUserMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	env.responder.err = errors.New("timeout")
	userMsg, reply, err := env.svc.AskAssistant(ctx, owner, issue.ID, "hello")
	assertKind(t, err, apperrors.KindUpstream)
	require.NotNil(t, userMsg)
	assert.Nil(t, reply)

	msgs := env.messages(t, issue.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderSubmitter, msgs[0].Sender)
}

func TestRecordPaymentValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	_, err := env.svc.RecordPayment(ctx, owner, issue.ID, 100)
	assertKind(t, err, apperrors.KindValidation)
	_, err = env.svc.RecordPayment(ctx, owner, "missing", 19900)
	assertKind(t, err, apperrors.KindNotFound)
	_, err = env.svc.RecordPayment(ctx, stranger, issue.ID, 19900)
	assertKind(t, err, apperrors.KindForbidden)

	payments, err := env.svc.ListPayments(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRecordPaymentFailureLeavesStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)
	_, err := env.svc.RequestPayment(ctx, expert, issue.ID)
	require.NoError(t, err)

	env.provider.Decline = func(ChargeRequest) error { return errors.New("card declined") }
	_, err = env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	assertKind(t, err, apperrors.KindUpstream)

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.NotEmpty(t, appErr.Details["payment_id"])

	got, err := env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentNeeded, got.Status)

	payments, err := env.svc.ListPayments(ctx, owner, issue.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentFailed, payments[0].Status)
	assert.Equal(t, "card declined", payments[0].FailureReason)

	// retry succeeds once the card works
	env.provider.Decline = nil
	payment, err := env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)
}

func TestRecordPaymentIsIdempotentPerIssue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	first, err := env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	require.NoError(t, err)
	second, err := env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, env.provider.Charges())

	booked := 0
	for _, m := range systemMessages(env.messages(t, issue.ID)) {
		if strings.Contains(m.Text, "Consultation booked") {
			booked++
		}
	}
	assert.Equal(t, 1, booked)
}

func TestConcurrentPaymentsChargeOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assertKind(t, err, apperrors.KindConflict)
		}
	}
	assert.Equal(t, 1, env.provider.Charges())

	payments, err := env.svc.ListPayments(ctx, owner, issue.ID)
	require.NoError(t, err)
	completed := 0
	for _, p := range payments {
		if p.Status == models.PaymentCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestRequestPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	_, err := env.svc.RequestPayment(ctx, owner, issue.ID)
	assertKind(t, err, apperrors.KindForbidden)

	got, err := env.svc.RequestPayment(ctx, expert, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentNeeded, got.Status)

	_, err = env.svc.RequestPayment(ctx, expert, issue.ID)
	require.NoError(t, err)

	system := systemMessages(env.messages(t, issue.ID))
	require.Len(t, system, 1)
	assert.Contains(t, system[0].Text, "₹199")
}

func TestSubmitFeedbackRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	issue := env.createIssue(t)
	_, err := env.svc.SubmitFeedback(ctx, owner, issue.ID, 4, "")
	assertKind(t, err, apperrors.KindConflict)

	_, err = env.svc.CloseIssue(ctx, expert, issue.ID)
	require.NoError(t, err)

	for _, rating := range []int{0, 6} {
		_, err = env.svc.SubmitFeedback(ctx, owner, issue.ID, rating, "")
		assertKind(t, err, apperrors.KindValidation)
	}
	_, err = env.svc.SubmitFeedback(ctx, stranger, issue.ID, 3, "")
	assertKind(t, err, apperrors.KindForbidden)
	_, err = env.svc.SubmitFeedback(ctx, owner, "missing", 3, "")
	assertKind(t, err, apperrors.KindNotFound)

	fb, err := env.svc.SubmitFeedback(ctx, owner, issue.ID, 1, "  ")
	require.NoError(t, err)
	assert.Nil(t, fb.Comment)

	_, err = env.svc.SubmitFeedback(ctx, owner, issue.ID, 5, "changed my mind")
	assertKind(t, err, apperrors.KindConflict)

	second := env.createIssue(t)
	_, err = env.svc.CloseIssue(ctx, expert, second.ID)
	require.NoError(t, err)
	_, err = env.svc.SubmitFeedback(ctx, owner, second.ID, 5, "")
	require.NoError(t, err)
}

func TestListIssuesForExperts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	open := env.createIssue(t)
	closed := env.createIssue(t)
	_, err := env.svc.CloseIssue(ctx, expert, closed.ID)
	require.NoError(t, err)

	_, err = env.svc.ListIssues(ctx, owner, models.IssueQuery{})
	assertKind(t, err, apperrors.KindForbidden)

	all, err := env.svc.ListIssues(ctx, expert, models.IssueQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	openOnly, err := env.svc.ListIssues(ctx, expert, models.IssueQuery{Filter: models.FilterOpen})
	require.NoError(t, err)
	require.Len(t, openOnly, 1)
	assert.Equal(t, open.ID, openOnly[0].ID)

	none, err := env.svc.ListIssues(ctx, expert, models.IssueQuery{Filter: models.FilterAll, Search: "laptop"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSnapshotAndEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	_, err := env.svc.RecordUserReply(ctx, owner, issue.ID, "first")
	require.NoError(t, err)
	_, err = env.svc.RecordExpertReply(ctx, expert, issue.ID, "second")
	require.NoError(t, err)

	snap, err := env.svc.Snapshot(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpertReply, snap.Issue.Status)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "first", snap.Messages[0].Text)

	assert.Len(t, env.events.ofType(notify.EventMessageAppended), 2)
	status := env.events.ofType(notify.EventStatusChanged)
	require.Len(t, status, 1)
	assert.Equal(t, models.StatusExpertReply, status[0].Status)

	_, err = env.svc.Snapshot(ctx, stranger, issue.ID)
	assertKind(t, err, apperrors.KindForbidden)
}

func TestDetectDeviceWithoutDetector(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, models.DeviceOther, env.svc.DetectDevice(context.Background(), "https://x/y.jpg").DeviceType)
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "₹199", formatPrice(19900))
	assert.Equal(t, "₹199.50", formatPrice(19950))
}

// ctxIssueStore fails reads and writes once ctx is done, like a database
// driver does.
type ctxIssueStore struct {
	store.IssueStore
}

func (s ctxIssueStore) GetByID(ctx context.Context, id string) (*models.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.IssueStore.GetByID(ctx, id)
}

func (s ctxIssueStore) Update(ctx context.Context, issue *models.Issue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.IssueStore.Update(ctx, issue)
}

// cancelAfterCharge captures the charge and then cancels the caller.
type cancelAfterCharge struct {
	PaymentProvider
	cancel context.CancelFunc
}

func (p *cancelAfterCharge) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	result, err := p.PaymentProvider.Charge(ctx, req)
	p.cancel()
	return result, err
}

func bookedMessages(msgs []models.Message) int {
	n := 0
	for _, m := range systemMessages(msgs) {
		if strings.Contains(m.Text, "Consultation booked") {
			n++
		}
	}
	return n
}

func TestRecordPaymentCompletesAfterCallerCancels(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.svc.issues = ctxIssueStore{IssueStore: env.stores.Issues}
	env.svc.provider = &cancelAfterCharge{PaymentProvider: env.provider, cancel: cancel}

	payment, err := env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)

	got, err := env.svc.GetIssue(context.Background(), owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConsultationPaid, got.Status)
	assert.Equal(t, 1, bookedMessages(env.messages(t, issue.ID)))
}

func TestRecordPaymentAdvancesIssueBehindCompletedPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)
	_, err := env.svc.RequestPayment(ctx, expert, issue.ID)
	require.NoError(t, err)

	// a charge captured by an attempt that never moved the issue
	existing := &models.Payment{
		IssueID:          issue.ID,
		PayerID:          owner.ID,
		AmountMinorUnits: 19900,
		Currency:         "inr",
		Status:           models.PaymentCompleted,
		ProviderRef:      "mock_earlier",
		CreatedAt:        time.Now(),
	}
	require.NoError(t, env.stores.Payments.Create(ctx, existing))

	payment, err := env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, payment.ID)
	assert.Zero(t, env.provider.Charges(), "no second charge")

	got, err := env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConsultationPaid, got.Status)

	_, err = env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	require.NoError(t, err)
	assert.Equal(t, 1, bookedMessages(env.messages(t, issue.ID)))
}

func TestRecordPaymentRetryAfterDeclineUsesNewProviderKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	var keys []string
	env.provider.Decline = func(req ChargeRequest) error {
		keys = append(keys, req.IdempotencyKey)
		if len(keys) == 1 {
			return errors.New("insufficient funds")
		}
		return nil
	}

	_, err := env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	assertKind(t, err, apperrors.KindUpstream)

	payment, err := env.svc.RecordPayment(ctx, owner, issue.ID, 19900)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, payment.Status)

	require.Len(t, keys, 2)
	assert.NotEqual(t, keys[0], keys[1])
	assert.Equal(t, issue.ID+":"+payment.ID, keys[1])
}

// closingIssueStore closes the issue right after handing out a read, once
// armed.
type closingIssueStore struct {
	store.IssueStore
	armed atomic.Bool
}

func (s *closingIssueStore) GetByID(ctx context.Context, id string) (*models.Issue, error) {
	issue, err := s.IssueStore.GetByID(ctx, id)
	if err == nil && s.armed.CompareAndSwap(true, false) {
		closed := issue.Clone()
		closed.Status = models.StatusClosed
		if err := s.IssueStore.Update(ctx, closed); err != nil {
			return nil, err
		}
	}
	return issue, err
}

func TestRepliesRefusedWhenCloseLandsMidRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	closing := &closingIssueStore{IssueStore: env.stores.Issues}
	env.svc.issues = closing

	userIssue := env.createIssue(t)
	closing.armed.Store(true)
	_, err := env.svc.RecordUserReply(ctx, owner, userIssue.ID, "Here it is.")
	assertKind(t, err, apperrors.KindConflict)
	assert.Empty(t, env.messages(t, userIssue.ID))

	expertIssue := env.createIssue(t)
	_, err = env.svc.RecordExpertReply(ctx, expert, expertIssue.ID, "Please share a video.")
	require.NoError(t, err)
	closing.armed.Store(true)
	_, err = env.svc.RecordExpertReply(ctx, expert, expertIssue.ID, "Any update?")
	assertKind(t, err, apperrors.KindConflict)

	msgs := env.messages(t, expertIssue.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Please share a video.", msgs[0].Text)
}

// staleIssueStore reports a concurrent writer for the next failures
// updates; a negative count means always.
type staleIssueStore struct {
	store.IssueStore
	mu       sync.Mutex
	failures int
	reads    int
	updates  int
}

func (s *staleIssueStore) GetByID(ctx context.Context, id string) (*models.Issue, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.IssueStore.GetByID(ctx, id)
}

func (s *staleIssueStore) Update(ctx context.Context, issue *models.Issue) error {
	s.mu.Lock()
	s.updates++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		s.mu.Unlock()
		return store.ErrStaleIssue
	}
	s.mu.Unlock()
	return s.IssueStore.Update(ctx, issue)
}

func TestMutateRetriesOnlyStaleWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)
	stale := &staleIssueStore{IssueStore: env.stores.Issues, failures: 2}
	env.svc.issues = stale

	got, err := env.svc.AttachDiagnosis(ctx, issue.ID, remoteConsult())
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiagnosed, got.Status)
	assert.Equal(t, 3, stale.updates)

	stale.failures, stale.updates = -1, 0
	_, err = env.svc.RequestPayment(ctx, expert, issue.ID)
	assertKind(t, err, apperrors.KindConflict)
	assert.Equal(t, maxUpdateAttempts, stale.updates)

	stale.failures = 0
	_, err = env.svc.CloseIssue(ctx, expert, issue.ID)
	require.NoError(t, err)

	stale.reads, stale.updates = 0, 0
	_, err = env.svc.RequestPayment(ctx, expert, issue.ID)
	assertKind(t, err, apperrors.KindConflict)
	assert.Equal(t, 1, stale.reads, "a closed issue is not retried")
	assert.Zero(t, stale.updates)
}

func TestAskAssistantRetryAnswersPendingMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	env.responder.err = errors.New("timeout")
	first, _, err := env.svc.AskAssistant(ctx, owner, issue.ID, "Is it safe to keep using it?")
	assertKind(t, err, apperrors.KindUpstream)
	require.NotNil(t, first)

	env.responder.err = nil
	again, reply, err := env.svc.AskAssistant(ctx, owner, issue.ID, "Is it safe to keep using it?")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, first.ID, again.ID)

	msgs := env.messages(t, issue.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderSubmitter, msgs[0].Sender)
	assert.Equal(t, models.SenderExpert, msgs[1].Sender)

	// once answered, the same text is a new question
	third, _, err := env.svc.AskAssistant(ctx, owner, issue.ID, "Is it safe to keep using it?")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestAttachDiagnosisCanonicalizesAction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.createIssue(t)

	spaced := remoteConsult()
	spaced.RecommendedAction = "remote consult"
	_, err := env.svc.AttachDiagnosis(ctx, issue.ID, spaced)
	require.NoError(t, err)

	got, err := env.svc.GetIssue(ctx, owner, issue.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Diagnosis)
	assert.Equal(t, models.ActionRemoteConsult, got.Diagnosis.RecommendedAction)
	assert.Equal(t, remoteConsult(), *got.Diagnosis)

	system := systemMessages(env.messages(t, issue.ID))
	require.Len(t, system, 1)
	assert.Equal(t, "AI Diagnosis Complete. Recommended Action: remote consult", system[0].Text)
}
