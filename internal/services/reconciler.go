package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/metrics"
	"github.com/snaprepair/backend/internal/models"
	"github.com/snaprepair/backend/internal/store"
)

// PaymentReconciler fails payments left pending longer than maxAge, for
// example when the process died between creating the record and hearing
// back from the provider.
type PaymentReconciler struct {
	payments store.PaymentStore
	maxAge   time.Duration
	now      func() time.Time
	cron     *cron.Cron
}

func NewPaymentReconciler(payments store.PaymentStore, maxAge time.Duration) *PaymentReconciler {
	return &PaymentReconciler{payments: payments, maxAge: maxAge, now: time.Now}
}

// Start runs RunOnce on the given cron schedule (e.g. "@every 5m").
func (r *PaymentReconciler) Start(schedule string) error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			logger.WithError(err, "payment_reconciler").Error("Reconciliation failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	logger.Info("Payment reconciler started", map[string]interface{}{
		"schedule": schedule,
		"max_age":  r.maxAge.String(),
	})
	return nil
}

// Stop waits for a running job to finish.
func (r *PaymentReconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// RunOnce marks stale pending payments failed and returns how many it touched.
func (r *PaymentReconciler) RunOnce(ctx context.Context) (int, error) {
	stale, err := r.payments.ListPendingBefore(ctx, r.now().Add(-r.maxAge))
	if err != nil {
		return 0, fmt.Errorf("list pending payments: %w", err)
	}

	failed := 0
	for i := range stale {
		p := stale[i]
		p.Status = models.PaymentFailed
		p.FailureReason = "no provider confirmation before timeout"
		if err := r.payments.Update(ctx, &p); err != nil {
			logger.WithError(err, "payment_reconciler").WithField("payment_id", p.ID).Warn("Failed to mark payment failed")
			continue
		}
		failed++
		metrics.Payments.WithLabelValues("expired").Inc()
	}

	if failed > 0 {
		logger.Info("Expired stale pending payments", map[string]interface{}{"count": failed})
	}
	return failed, nil
}
