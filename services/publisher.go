package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Publisher delivers domain events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

const (
	SubjectEventEnrolled   = "events.enrolled"
	SubjectRequestSent     = "requests.sent"
	SubjectRequestAccepted = "requests.accepted"
	SubjectRequestRejected = "requests.rejected"
)

// RequestEvent is the payload published on request subjects.
type RequestEvent struct {
	RequestID    string    `json:"request_id"`
	EventID      string    `json:"event_id"`
	EventSlug    string    `json:"event_slug"`
	SenderID     string    `json:"sender_id"`
	TargetUserID string    `json:"target_user_id"`
	Status       string    `json:"status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EnrollmentEvent is the payload published after an event roster is ingested.
type EnrollmentEvent struct {
	EventID    string    `json:"event_id"`
	EventSlug  string    `json:"event_slug"`
	Attendees  int       `json:"attendees"`
	OccurredAt time.Time `json:"occurred_at"`
}

// publish runs after the state change is committed, so failures are logged only.
func publish(ctx context.Context, p Publisher, log *zap.Logger, subject string, v any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, v); err != nil {
		log.Warn("failed to publish domain event", zap.String("subject", subject), zap.Error(err))
	}
}
