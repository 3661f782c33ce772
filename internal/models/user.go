package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Capability decides which lifecycle operations a user may perform.
type Capability string

const (
	CapabilitySubmitter Capability = "submitter"
	CapabilityExpert    Capability = "expert"
)

type User struct {
	ID        string         `json:"id" gorm:"type:uuid;primaryKey"`
	Email     string         `json:"email" gorm:"uniqueIndex;not null"`
	Password  string         `json:"-" gorm:"not null"`
	Name      string         `json:"name" gorm:"not null"`
	Phone     string         `json:"phone"`
	IsExpert  bool           `json:"isExpert" gorm:"not null;default:false"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Actor returns the identity this user acts under.
func (u *User) Actor() Actor {
	capability := CapabilitySubmitter
	if u.IsExpert {
		capability = CapabilityExpert
	}
	return Actor{ID: u.ID, DisplayName: u.Name, Capability: capability}
}

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Capability  Capability `json:"capability"`
}

func (a Actor) IsExpert() bool {
	return a.Capability == CapabilityExpert
}
