package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusAccepted RequestStatus = "ACCEPTED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is allowed.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusAccepted || s == RequestStatusRejected
}

// Request is a directed connection request between two users of one event.
//
// PairKey is the same for (A,B) and (B,A); the partial unique index keeps at
// most one PENDING or ACCEPTED request per pair per event.
type Request struct {
	ID           string        `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string        `gorm:"type:uuid;not null;index" json:"user_id"`
	TargetUserID string        `gorm:"type:uuid;not null;index" json:"target_user_id"`
	EventID      string        `gorm:"type:uuid;not null;index;uniqueIndex:idx_requests_active_pair,where:status <> 'REJECTED'" json:"event_id"`
	PairKey      string        `gorm:"not null;uniqueIndex:idx_requests_active_pair,where:status <> 'REJECTED'" json:"-"`
	Status       RequestStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt    time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time     `json:"updated_at" gorm:"autoUpdateTime"`

	User       *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	TargetUser *User  `gorm:"foreignKey:TargetUserID" json:"target_user,omitempty"`
	Event      *Event `gorm:"foreignKey:EventID" json:"event,omitempty"`
}

func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.PairKey == "" {
		r.PairKey = PairKey(r.UserID, r.TargetUserID)
	}
	return nil
}

// PairKey identifies the unordered pair {a, b}.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
