package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pocp/metrics"
	"pocp/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Attendee is one row of an event roster.
type Attendee struct {
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	WalletAddress string  `json:"wallet_address"`
	Instagram     *string `json:"instagram,omitempty"`
	X             *string `json:"x,omitempty"`
}

type EnrollInput struct {
	EventName string
	Slug      string
	Creator   string
	Attendees []Attendee
}

// EnrollResult summarizes what an ingestion created and reused.
type EnrollResult struct {
	Event              models.Event `json:"event"`
	UsersCreated       int          `json:"users_created"`
	UsersReused        int          `json:"users_reused"`
	MembershipsCreated int          `json:"memberships_created"`
	MembershipsSkipped int          `json:"memberships_skipped"`
}

// Membership answers whether a wallet is enrolled in an event.
type Membership struct {
	IsInEvent bool    `json:"is_in_event"`
	EventID   *string `json:"event_id,omitempty"`
}

type EnrollmentService struct {
	DB        *gorm.DB
	Log       *zap.Logger
	Publisher Publisher
	Timeout   time.Duration
}

func NewEnrollmentService(db *gorm.DB, log *zap.Logger, pub Publisher, timeout time.Duration) *EnrollmentService {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &EnrollmentService{DB: db, Log: log, Publisher: pub, Timeout: timeout}
}

// EnrollUsers creates the event and enrolls every attendee in one transaction.
// A failing attendee aborts the whole ingestion so it can be retried unchanged.
func (s *EnrollmentService) EnrollUsers(ctx context.Context, in EnrollInput) (*EnrollResult, error) {
	name := strings.TrimSpace(in.EventName)
	eventSlug := strings.TrimSpace(in.Slug)
	if name == "" || eventSlug == "" {
		return nil, fmt.Errorf("%w: event name and slug are required", ErrInvalidInput)
	}
	creator, err := requireWallet("creator wallet", in.Creator)
	if err != nil {
		return nil, err
	}
	attendees := make([]Attendee, len(in.Attendees))
	for i, a := range in.Attendees {
		a.Email = CanonicalEmail(a.Email)
		a.WalletAddress = CanonicalWallet(a.WalletAddress)
		a.Name = strings.TrimSpace(a.Name)
		if a.Email == "" || a.WalletAddress == "" {
			return nil, fmt.Errorf("%w: attendee %d needs an email and a wallet address", ErrInvalidInput, i)
		}
		attendees[i] = a
	}

	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	result := &EnrollResult{}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Event{}).Where("slug = ?", eventSlug).Count(&existing).Error; err != nil {
			return storageErr("check event slug", err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: %q", ErrDuplicateSlug, eventSlug)
		}

		event := models.Event{Name: name, Slug: eventSlug, Creator: creator}
		if err := tx.Create(&event).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %q", ErrDuplicateSlug, eventSlug)
			}
			return storageErr("create event", err)
		}
		result.Event = event

		for i, a := range attendees {
			user, created, err := findOrCreateAttendee(tx, a)
			if err != nil {
				return fmt.Errorf("attendee %d (%s): %w", i, a.Email, err)
			}
			if created {
				result.UsersCreated++
			} else {
				result.UsersReused++
			}

			link := models.EventUser{UserID: user.ID, EventID: event.ID}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "event_id"}},
				DoNothing: true,
			}).Create(&link)
			if res.Error != nil {
				return fmt.Errorf("attendee %d (%s): %w", i, a.Email, storageErr("enroll user", res.Error))
			}
			if res.RowsAffected == 0 {
				result.MembershipsSkipped++
			} else {
				result.MembershipsCreated++
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateSlug) {
			s.Log.Warn("event slug already taken", zap.String("slug", eventSlug))
		} else {
			s.Log.Error("event enrollment failed", zap.String("slug", eventSlug), zap.Error(err))
		}
		return nil, err
	}

	metrics.EnrolledAttendees.Add(float64(result.MembershipsCreated))
	s.Log.Info("event enrolled",
		zap.String("slug", eventSlug),
		zap.String("event_id", result.Event.ID),
		zap.Int("users_created", result.UsersCreated),
		zap.Int("users_reused", result.UsersReused),
		zap.Int("memberships_created", result.MembershipsCreated),
	)
	publish(ctx, s.Publisher, s.Log, SubjectEventEnrolled, EnrollmentEvent{
		EventID:    result.Event.ID,
		EventSlug:  eventSlug,
		Attendees:  result.MembershipsCreated + result.MembershipsSkipped,
		OccurredAt: time.Now().UTC(),
	})
	return result, nil
}

// findOrCreateAttendee looks the user up by email and creates it if absent.
// An existing user is returned unchanged.
func findOrCreateAttendee(tx *gorm.DB, a Attendee) (*models.User, bool, error) {
	var user models.User
	err := tx.Where("email = ?", a.Email).First(&user).Error
	if err == nil {
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, storageErr("find user by email", err)
	}

	var owner models.User
	err = tx.Where("wallet_address = ?", a.WalletAddress).First(&owner).Error
	switch {
	case err == nil && owner.Email == nil:
		// Wallet-only user from an earlier wallet connection: claim it.
		owner.Email = &a.Email
		if owner.Name == "" {
			owner.Name = a.Name
		}
		if err := tx.Model(&owner).Select("email", "name").Updates(&owner).Error; err != nil {
			return nil, false, storageErr("claim wallet user", err)
		}
		return &owner, false, nil
	case err == nil:
		return nil, false, fmt.Errorf("%w: %s", ErrWalletTaken, a.WalletAddress)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, storageErr("find user by wallet", err)
	}

	email := a.Email
	user = models.User{
		Name:          a.Name,
		Email:         &email,
		WalletAddress: a.WalletAddress,
		Instagram:     a.Instagram,
		X:             a.X,
	}
	if err := tx.Create(&user).Error; err != nil {
		return nil, false, storageErr("create user", err)
	}
	return &user, true, nil
}

// GetEvent returns the event with the given slug.
func (s *EnrollmentService) GetEvent(ctx context.Context, slug string) (*models.Event, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	return findEvent(s.DB.WithContext(ctx), slug)
}

// IsUserInEvent reports whether the wallet is enrolled in the event.
// An unknown wallet is simply not enrolled.
func (s *EnrollmentService) IsUserInEvent(ctx context.Context, slug, wallet string) (*Membership, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	db := s.DB.WithContext(ctx)

	event, err := findEvent(db, slug)
	if err != nil {
		return nil, err
	}

	w := CanonicalWallet(wallet)
	if w == "" {
		return &Membership{}, nil
	}
	var count int64
	err = db.Model(&models.EventUser{}).
		Joins("JOIN users ON users.id = event_users.user_id").
		Where("event_users.event_id = ? AND users.wallet_address = ?", event.ID, w).
		Count(&count).Error
	if err != nil {
		return nil, storageErr("check membership", err)
	}
	if count == 0 {
		return &Membership{}, nil
	}
	return &Membership{IsInEvent: true, EventID: &event.ID}, nil
}
