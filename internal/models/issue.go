package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type IssueStatus string

const (
	StatusOpen             IssueStatus = "open"
	StatusDiagnosed        IssueStatus = "diagnosed"
	StatusExpertReply      IssueStatus = "expert_reply"
	StatusPaymentNeeded    IssueStatus = "payment_needed"
	StatusConsultationPaid IssueStatus = "consultation_paid"
	StatusClosed           IssueStatus = "closed"
)

var statusRank = map[IssueStatus]int{
	StatusOpen:             0,
	StatusDiagnosed:        1,
	StatusExpertReply:      2,
	StatusPaymentNeeded:    3,
	StatusConsultationPaid: 4,
	StatusClosed:           5,
}

// legacyStatuses maps every spelling found in older rows to the canonical value.
var legacyStatuses = map[string]IssueStatus{
	"open":              StatusOpen,
	"pending":           StatusOpen,
	"diagnosed":         StatusDiagnosed,
	"expert replied":    StatusExpertReply,
	"expert_replied":    StatusExpertReply,
	"expert_reply":      StatusExpertReply,
	"payment needed":    StatusPaymentNeeded,
	"payment_needed":    StatusPaymentNeeded,
	"consultation paid": StatusConsultationPaid,
	"consultation_paid": StatusConsultationPaid,
	"closed":            StatusClosed,
}

// ParseStatus normalizes a stored or client-supplied status string.
func ParseStatus(s string) (IssueStatus, bool) {
	status, ok := legacyStatuses[strings.ToLower(strings.TrimSpace(s))]
	return status, ok
}

// Rank is the position of s in the lifecycle, or -1 when unknown.
func (s IssueStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func (s IssueStatus) Valid() bool {
	return s.Rank() >= 0
}

func (s IssueStatus) IsTerminal() bool {
	return s == StatusClosed
}

// CanTransitionTo reports whether moving from s to next keeps the status
// monotonic. Staying at the same rank is allowed; closed has no exits.
func (s IssueStatus) CanTransitionTo(next IssueStatus) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	return next.Rank() >= s.Rank()
}

type DeviceType string

const (
	DeviceFan              DeviceType = "Fan"
	DeviceLaptop           DeviceType = "Laptop"
	DeviceAC               DeviceType = "AC"
	DeviceWashingMachine   DeviceType = "Washing Machine"
	DeviceKitchenAppliance DeviceType = "Kitchen Appliance"
	DeviceRefrigerator     DeviceType = "Refrigerator"
	DeviceTelevision       DeviceType = "Television"
	DeviceWaterHeater      DeviceType = "Water Heater"
	DeviceOther            DeviceType = "Other"
)

var DeviceTypes = []DeviceType{
	DeviceFan,
	DeviceLaptop,
	DeviceAC,
	DeviceWashingMachine,
	DeviceKitchenAppliance,
	DeviceRefrigerator,
	DeviceTelevision,
	DeviceWaterHeater,
	DeviceOther,
}

// ParseDeviceType matches s against the supported device types, ignoring case.
func ParseDeviceType(s string) (DeviceType, bool) {
	s = strings.TrimSpace(s)
	for _, d := range DeviceTypes {
		if strings.EqualFold(string(d), s) {
			return d, true
		}
	}
	return "", false
}

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

func (m MediaKind) Valid() bool {
	return m == MediaPhoto || m == MediaVideo
}

// Issue is one repair request. Issues are never deleted.
type Issue struct {
	ID           string      `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID      string      `json:"ownerId" gorm:"type:uuid;not null;index"`
	DeviceType   DeviceType  `json:"deviceType" gorm:"not null"`
	Description  string      `json:"description" gorm:"type:text;not null"`
	MediaURL     string      `json:"mediaUrl" gorm:"not null"`
	MediaKind    MediaKind   `json:"mediaKind" gorm:"not null;default:'photo'"`
	Diagnosis    *Diagnosis  `json:"diagnosis" gorm:"serializer:json;type:jsonb"`
	Status       IssueStatus `json:"status" gorm:"not null;default:'open';index"`
	AssistedMode bool        `json:"assistedMode" gorm:"not null;default:true"`
	Version      int64       `json:"-" gorm:"not null;default:0"`
	CreatedAt    time.Time   `json:"createdAt" gorm:"index"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

func (Issue) TableName() string {
	return "issues"
}

func (i *Issue) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// Clone returns a copy that shares no mutable state with i.
func (i *Issue) Clone() *Issue {
	c := *i
	if i.Diagnosis != nil {
		d := i.Diagnosis.Clone()
		c.Diagnosis = &d
	}
	return &c
}

// IssueFilter narrows the expert dashboard listing.
type IssueFilter string

const (
	FilterAll      IssueFilter = "all"
	FilterOpen     IssueFilter = "open"
	FilterResolved IssueFilter = "resolved"
)

// ParseIssueFilter defaults to FilterAll for empty input.
func ParseIssueFilter(s string) (IssueFilter, bool) {
	switch IssueFilter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterAll:
		return FilterAll, true
	case FilterOpen:
		return FilterOpen, true
	case FilterResolved:
		return FilterResolved, true
	}
	return "", false
}

// Matches reports whether an issue with status s belongs in the filter.
func (f IssueFilter) Matches(s IssueStatus) bool {
	switch f {
	case FilterOpen:
		return s != StatusClosed
	case FilterResolved:
		return s == StatusClosed
	default:
		return true
	}
}

// IssueQuery is the expert dashboard query.
type IssueQuery struct {
	Filter IssueFilter
	Search string
}
