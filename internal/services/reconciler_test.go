package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaprepair/backend/internal/models"
	"github.com/snaprepair/backend/internal/store"
)

func TestReconcilerExpiresStalePending(t *testing.T) {
	payments := store.NewMemoryPaymentStore()
	ctx := context.Background()
	now := time.Now()

	stale := &models.Payment{IssueID: "a", Status: models.PaymentPending, CreatedAt: now.Add(-time.Hour)}
	fresh := &models.Payment{IssueID: "b", Status: models.PaymentPending, CreatedAt: now.Add(-time.Minute)}
	done := &models.Payment{IssueID: "c", Status: models.PaymentCompleted, CreatedAt: now.Add(-time.Hour)}
	for _, p := range []*models.Payment{stale, fresh, done} {
		require.NoError(t, payments.Create(ctx, p))
	}

	r := NewPaymentReconciler(payments, 15*time.Minute)
	r.now = func() time.Time { return now }

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := payments.ListByIssue(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.PaymentFailed, list[0].Status)
	assert.NotEmpty(t, list[0].FailureReason)

	list, err = payments.ListByIssue(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, list[0].Status)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcilerRejectsBadSchedule(t *testing.T) {
	r := NewPaymentReconciler(store.NewMemoryPaymentStore(), time.Minute)
	assert.Error(t, r.Start("not a schedule"))
	r.Stop()
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()
	now := time.Now()
	g.now = func() time.Time { return now }

	ok, err := g.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.Acquire(ctx, "k", time.Minute)
	assert.False(t, ok, "held key")

	ok, _ = g.Acquire(ctx, "other", time.Minute)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = g.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok, "expired claim can be taken over")

	require.NoError(t, g.Release(ctx, "k"))
	ok, _ = g.Acquire(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestMockProviderIdempotentByKey(t *testing.T) {
	p := NewMockPaymentProvider()
	ctx := context.Background()
	req := ChargeRequest{IssueID: "i", AmountMinor: 19900, Currency: "inr", IdempotencyKey: "k"}

	first, err := p.Charge(ctx, req)
	require.NoError(t, err)
	second, err := p.Charge(ctx, req)
	require.NoError(t, err)

	assert.True(t, first.Succeeded)
	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, 1, p.Charges())
}

func TestMockProviderReplaysDeclines(t *testing.T) {
	p := NewMockPaymentProvider()
	ctx := context.Background()
	req := ChargeRequest{IssueID: "i", AmountMinor: 19900, Currency: "inr", IdempotencyKey: "i:p1"}

	p.Decline = func(ChargeRequest) error { return errors.New("card declined") }
	first, err := p.Charge(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Succeeded)
	assert.Equal(t, "card declined", first.FailureReason)

	p.Decline = nil
	replayed, err := p.Charge(ctx, req)
	require.NoError(t, err)
	assert.False(t, replayed.Succeeded, "same key replays the decline")

	req.IdempotencyKey = "i:p2"
	fresh, err := p.Charge(ctx, req)
	require.NoError(t, err)
	assert.True(t, fresh.Succeeded)
	assert.Equal(t, 1, p.Charges())
}
