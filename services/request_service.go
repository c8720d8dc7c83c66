package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pocp/metrics"
	"pocp/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserRequests lists every request a user sent or received in one event.
type UserRequests struct {
	UserID   string           `json:"user_id"`
	Requests []models.Request `json:"requests"`
}

// RequestService owns the connection request lifecycle:
// PENDING -> ACCEPTED or PENDING -> REJECTED, both terminal.
type RequestService struct {
	DB        *gorm.DB
	Log       *zap.Logger
	Publisher Publisher
	Timeout   time.Duration
}

func NewRequestService(db *gorm.DB, log *zap.Logger, pub Publisher, timeout time.Duration) *RequestService {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &RequestService{DB: db, Log: log, Publisher: pub, Timeout: timeout}
}

// SendRequest creates a PENDING request from sender to target.
func (s *RequestService) SendRequest(ctx context.Context, slug, senderWallet, targetWallet string) (*models.Request, error) {
	sender, err := requireWallet("sender wallet", senderWallet)
	if err != nil {
		return nil, err
	}
	target, err := requireWallet("target wallet", targetWallet)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	db := s.DB.WithContext(ctx)

	event, err := findEvent(db, slug)
	if err != nil {
		return nil, err
	}
	from, err := findEnrolledUser(db, event.ID, sender)
	if err != nil {
		return nil, err
	}
	to, err := findEnrolledUser(db, event.ID, target)
	if err != nil {
		return nil, err
	}
	if from.ID == to.ID {
		s.Log.Warn("self connection request rejected", zap.String("slug", slug), zap.String("wallet", sender))
		return nil, ErrSelfRequest
	}

	pairKey := models.PairKey(from.ID, to.ID)
	var active int64
	err = db.Model(&models.Request{}).
		Where("event_id = ? AND pair_key = ? AND status IN ?", event.ID, pairKey,
			[]models.RequestStatus{models.RequestStatusPending, models.RequestStatusAccepted}).
		Count(&active).Error
	if err != nil {
		return nil, storageErr("check active requests", err)
	}
	if active > 0 {
		s.Log.Warn("duplicate connection request", zap.String("slug", slug),
			zap.String("sender", from.ID), zap.String("target", to.ID))
		return nil, ErrDuplicateRequest
	}

	req := models.Request{
		UserID:       from.ID,
		TargetUserID: to.ID,
		EventID:      event.ID,
		PairKey:      pairKey,
		Status:       models.RequestStatusPending,
	}
	if err := db.Create(&req).Error; err != nil {
		// A concurrent send for the same pair won the partial unique index.
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRequest
		}
		s.Log.Error("failed to create connection request", zap.Error(err))
		return nil, storageErr("create request", err)
	}

	metrics.RequestsSent.Inc()
	s.Log.Info("connection request sent",
		zap.String("request_id", req.ID), zap.String("slug", slug),
		zap.String("sender", from.ID), zap.String("target", to.ID))
	publish(ctx, s.Publisher, s.Log, SubjectRequestSent, requestEvent(&req, event.Slug))

	req.User = from
	req.TargetUser = to
	req.Event = event
	return &req, nil
}

// AcceptRequest moves a PENDING request to ACCEPTED.
func (s *RequestService) AcceptRequest(ctx context.Context, requestID, slug, callerWallet string) (*models.Request, error) {
	return s.transition(ctx, requestID, slug, callerWallet, models.RequestStatusAccepted)
}

// RejectRequest moves a PENDING request to REJECTED.
func (s *RequestService) RejectRequest(ctx context.Context, requestID, slug, callerWallet string) (*models.Request, error) {
	return s.transition(ctx, requestID, slug, callerWallet, models.RequestStatusRejected)
}

func (s *RequestService) transition(ctx context.Context, requestID, slug, callerWallet string, to models.RequestStatus) (*models.Request, error) {
	caller, err := requireWallet("caller wallet", callerWallet)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrRequestNotFound, requestID)
	}

	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	db := s.DB.WithContext(ctx)

	event, err := findEvent(db, slug)
	if err != nil {
		return nil, err
	}

	var req models.Request
	err = db.Preload("User").Preload("TargetUser").
		Where("id = ? AND event_id = ?", requestID, event.ID).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrRequestNotFound, requestID)
		}
		return nil, storageErr("find request", err)
	}

	if req.TargetUser == nil || req.TargetUser.WalletAddress != caller {
		return nil, ErrNotRecipient
	}
	if req.Status != models.RequestStatusPending {
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidTransition, req.Status)
	}

	now := time.Now()
	res := db.Model(&models.Request{}).
		Where("id = ? AND status = ?", req.ID, models.RequestStatusPending).
		Updates(map[string]any{"status": to, "updated_at": now})
	if res.Error != nil {
		s.Log.Error("failed to update connection request", zap.String("request_id", req.ID), zap.Error(res.Error))
		return nil, storageErr("update request status", res.Error)
	}
	if res.RowsAffected == 0 {
		// Another caller transitioned it between our read and write.
		return nil, fmt.Errorf("%w: request was already resolved", ErrInvalidTransition)
	}

	req.Status = to
	req.UpdatedAt = now
	req.Event = event

	metrics.RequestTransitions.WithLabelValues(string(to)).Inc()
	s.Log.Info("connection request resolved",
		zap.String("request_id", req.ID), zap.String("slug", slug), zap.String("status", string(to)))

	subject := SubjectRequestAccepted
	if to == models.RequestStatusRejected {
		subject = SubjectRequestRejected
	}
	publish(ctx, s.Publisher, s.Log, subject, requestEvent(&req, event.Slug))
	return &req, nil
}

// ListRequestsForUser returns every request in the event where the wallet is
// sender or recipient, newest first, with both parties preloaded.
func (s *RequestService) ListRequestsForUser(ctx context.Context, wallet, slug string) (*UserRequests, error) {
	w, err := requireWallet("wallet", wallet)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	db := s.DB.WithContext(ctx)

	event, err := findEvent(db, slug)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := db.Where("wallet_address = ?", w).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotEnrolled, w)
		}
		return nil, storageErr("find user", err)
	}

	requests := []models.Request{}
	err = db.Preload("User").Preload("TargetUser").Preload("Event").
		Where("event_id = ? AND (user_id = ? OR target_user_id = ?)", event.ID, user.ID, user.ID).
		Order("created_at DESC").Order("id").
		Find(&requests).Error
	if err != nil {
		return nil, storageErr("list requests", err)
	}
	return &UserRequests{UserID: user.ID, Requests: requests}, nil
}

func requestEvent(r *models.Request, slug string) RequestEvent {
	return RequestEvent{
		RequestID:    r.ID,
		EventID:      r.EventID,
		EventSlug:    slug,
		SenderID:     r.UserID,
		TargetUserID: r.TargetUserID,
		Status:       string(r.Status),
		OccurredAt:   time.Now().UTC(),
	}
}
