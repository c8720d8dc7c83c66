package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pocp/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserSummary is the public view of an attendee.
type UserSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	WalletAddress string `json:"wallet_address"`
}

type UserService struct {
	DB      *gorm.DB
	Log     *zap.Logger
	Timeout time.Duration
}

func NewUserService(db *gorm.DB, log *zap.Logger, timeout time.Duration) *UserService {
	return &UserService{DB: db, Log: log, Timeout: timeout}
}

// ConnectWallet returns the user owning wallet, creating a wallet-only user
// on first connection.
func (s *UserService) ConnectWallet(ctx context.Context, wallet string) (*models.User, bool, error) {
	w, err := requireWallet("wallet", wallet)
	if err != nil {
		return nil, false, err
	}
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	db := s.DB.WithContext(ctx)

	user := models.User{WalletAddress: w}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoNothing: true,
	}).Create(&user)
	if res.Error != nil {
		return nil, false, storageErr("create wallet user", res.Error)
	}
	if res.RowsAffected == 1 {
		s.Log.Info("wallet user created", zap.String("user_id", user.ID), zap.String("wallet", w))
		return &user, true, nil
	}

	existing, err := s.GetUserByWallet(ctx, w)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetUserByWallet returns the user owning wallet.
func (s *UserService) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	w, err := requireWallet("wallet", wallet)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	var user models.User
	if err := s.DB.WithContext(ctx).Where("wallet_address = ?", w).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, w)
		}
		return nil, storageErr("find user", err)
	}
	return &user, nil
}

// SearchEventUsers finds enrolled attendees whose name or wallet matches query.
func (s *UserService) SearchEventUsers(ctx context.Context, slug, query string, limit int) ([]UserSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	db := s.DB.WithContext(ctx)

	event, err := findEvent(db, slug)
	if err != nil {
		return nil, err
	}

	q := db.Model(&models.User{}).
		Joins("JOIN event_users ON event_users.user_id = users.id").
		Where("event_users.event_id = ?", event.ID).
		Order("event_users.id ASC").
		Limit(limit)
	if query = strings.TrimSpace(query); query != "" {
		term := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(users.name) LIKE ? OR users.wallet_address LIKE ?", term, term)
	}

	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		return nil, storageErr("search users", err)
	}

	res := make([]UserSummary, len(users))
	for i, u := range users {
		res[i] = UserSummary{ID: u.ID, Name: u.Name, WalletAddress: u.WalletAddress}
	}
	return res, nil
}
