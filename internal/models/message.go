package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Sender string

const (
	SenderSubmitter Sender = "submitter"
	SenderExpert    Sender = "expert"
	SenderSystem    Sender = "system"
)

func (s Sender) Valid() bool {
	return s == SenderSubmitter || s == SenderExpert || s == SenderSystem
}

// Message is one entry of an issue's append-only conversation log.
type Message struct {
	ID            string    `json:"id" gorm:"type:uuid;primaryKey"`
	Seq           int64     `json:"-" gorm:"autoIncrement;not null;index"`
	IssueID       string    `json:"issueId" gorm:"type:uuid;not null;index"`
	Sender        Sender    `json:"sender" gorm:"not null"`
	Text          string    `json:"text" gorm:"type:text;not null"`
	AttachmentURL *string   `json:"attachmentUrl"`
	CreatedAt     time.Time `json:"createdAt" gorm:"index"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
