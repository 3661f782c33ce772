package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	"github.com/snaprepair/backend/internal/logger"
)

// ChargeRequest asks a provider to capture one consultation fee.
type ChargeRequest struct {
	IssueID        string
	PayerID        string
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
}

// ChargeResult is the provider's answer. A declined charge is a result
// with Succeeded false, not an error; errors mean the provider could not
// be reached or refused the request.
type ChargeResult struct {
	Succeeded     bool
	Reference     string
	FailureReason string
}

type PaymentProvider interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// MockPaymentProvider approves every charge unless Decline says otherwise.
// Outcomes are replayed by idempotency key, declines included, like a real
// provider.
type MockPaymentProvider struct {
	mu      sync.Mutex
	results map[string]*ChargeResult
	Decline func(req ChargeRequest) error
}

func NewMockPaymentProvider() *MockPaymentProvider {
	return &MockPaymentProvider{results: make(map[string]*ChargeResult)}
}

func (p *MockPaymentProvider) Charge(_ context.Context, req ChargeRequest) (*ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if result, ok := p.results[req.IdempotencyKey]; ok {
		copied := *result
		return &copied, nil
	}

	result := &ChargeResult{Succeeded: true, Reference: "mock_" + uuid.NewString()}
	if p.Decline != nil {
		if err := p.Decline(req); err != nil {
			result = &ChargeResult{Succeeded: false, FailureReason: err.Error()}
		}
	}
	p.results[req.IdempotencyKey] = result
	copied := *result
	return &copied, nil
}

// Charges returns how many distinct charges were captured.
func (p *MockPaymentProvider) Charges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, result := range p.results {
		if result.Succeeded {
			n++
		}
	}
	return n
}

// StripePaymentProvider confirms a PaymentIntent with a saved payment method.
type StripePaymentProvider struct {
	paymentMethod string
}

func NewStripePaymentProvider(secretKey, paymentMethod string) *StripePaymentProvider {
	if len(secretKey) > 12 {
		logger.Info("Stripe API key configured", map[string]interface{}{"key_prefix": secretKey[:12] + "..."})
	}
	stripe.Key = secretKey
	return &StripePaymentProvider{paymentMethod: paymentMethod}
}

func (p *StripePaymentProvider) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinor),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(p.paymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("issue_id", req.IssueID)
	params.AddMetadata("payer_id", req.PayerID)

	intent, err := paymentintent.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return &ChargeResult{Succeeded: false, FailureReason: stripeErr.Msg}, nil
		}
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return &ChargeResult{
			Succeeded:     false,
			Reference:     intent.ID,
			FailureReason: fmt.Sprintf("payment intent %s", intent.Status),
		}, nil
	}
	return &ChargeResult{Succeeded: true, Reference: intent.ID}, nil
}
