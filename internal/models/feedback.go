package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	MinRating = 1
	MaxRating = 5
)

type Feedback struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	IssueID   string    `json:"issueId" gorm:"type:uuid;not null;uniqueIndex:idx_feedback_issue_user"`
	UserID    string    `json:"userId" gorm:"type:uuid;not null;uniqueIndex:idx_feedback_issue_user"`
	Rating    int       `json:"rating" gorm:"not null"`
	Comment   *string   `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

func (Feedback) TableName() string {
	return "feedback"
}

func (f *Feedback) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// FeedbackSummary aggregates ratings across closed issues.
type FeedbackSummary struct {
	Count          int         `json:"count"`
	AverageRating  float64     `json:"averageRating"`
	Distribution   map[int]int `json:"distribution"`
	RecentComments []string    `json:"recentComments"`
}
