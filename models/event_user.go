package models

import "time"

// EventUser enrolls a user in an event. The auto-increment ID records
// enrollment order and is the leaderboard tie-break.
type EventUser struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_event_users_user_event" json:"user_id"`
	EventID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_event_users_user_event;index" json:"event_id"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`

	User  *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Event *Event `gorm:"foreignKey:EventID" json:"-"`
}
