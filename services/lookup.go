package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pocp/models"

	"gorm.io/gorm"
)

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func findEvent(db *gorm.DB, slug string) (*models.Event, error) {
	var event models.Event
	if err := db.Where("slug = ?", slug).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrEventNotFound, slug)
		}
		return nil, storageErr("find event", err)
	}
	return &event, nil
}

// findEnrolledUser resolves a canonical wallet to a user enrolled in the event.
func findEnrolledUser(db *gorm.DB, eventID, wallet string) (*models.User, error) {
	var user models.User
	err := db.Model(&models.User{}).
		Joins("JOIN event_users ON event_users.user_id = users.id").
		Where("event_users.event_id = ? AND users.wallet_address = ?", eventID, wallet).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotEnrolled, wallet)
		}
		return nil, storageErr("find enrolled user", err)
	}
	return &user, nil
}
