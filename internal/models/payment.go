package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConsultationPriceMinor is the consultation fee in paise (₹199).
const ConsultationPriceMinor int64 = 19900

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type Payment struct {
	ID               string        `json:"id" gorm:"type:uuid;primaryKey"`
	IssueID          string        `json:"issueId" gorm:"type:uuid;not null;index"`
	PayerID          string        `json:"payerId" gorm:"type:uuid;not null"`
	AmountMinorUnits int64         `json:"amountMinorUnits" gorm:"not null"`
	Currency         string        `json:"currency" gorm:"not null;default:'inr'"`
	Status           PaymentStatus `json:"status" gorm:"not null;default:'pending';index"`
	ProviderRef      string        `json:"providerRef"`
	FailureReason    string        `json:"failureReason,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
