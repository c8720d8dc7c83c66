package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a participant identified by email and wallet address.
// Email is nil for users created from a bare wallet connection.
type User struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	Name          string    `json:"name"`
	Email         *string   `gorm:"uniqueIndex" json:"email,omitempty"`
	WalletAddress string    `gorm:"uniqueIndex;not null" json:"wallet_address"`
	Instagram     *string   `json:"instagram,omitempty"`
	X             *string   `json:"x,omitempty"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// EmailOrEmpty is the email for display, empty for wallet-only users.
func (u User) EmailOrEmpty() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}
