package services

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"pocp/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Standing is one leaderboard row.
type Standing struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	WalletAddress string `json:"wallet_address"`
	Connections   int    `json:"connections"`
}

// Standings is the event leaderboard as seen by one caller.
type Standings struct {
	Event       models.Event     `json:"event"`
	Users       []Standing       `json:"users"`
	CurrentUser *Standing        `json:"current_user"`
	Requests    []models.Request `json:"requests"`
}

// RosterEntry is an enrolled user with its enrollment sequence.
type RosterEntry struct {
	Seq  uint64
	User models.User
}

type StandingsService struct {
	DB      *gorm.DB
	Log     *zap.Logger
	Timeout time.Duration
}

func NewStandingsService(db *gorm.DB, log *zap.Logger, timeout time.Duration) *StandingsService {
	return &StandingsService{DB: db, Log: log, Timeout: timeout}
}

// GetEventStandings ranks every enrolled user by accepted connections.
// CurrentUser is nil when callerWallet is not enrolled.
func (s *StandingsService) GetEventStandings(ctx context.Context, slug, callerWallet string) (*Standings, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		event    *models.Event
		roster   []RosterEntry
		accepted []models.Request
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if event, err = findEvent(tx, slug); err != nil {
			return err
		}
		if roster, err = loadRoster(tx, event.ID); err != nil {
			return err
		}
		accepted, err = loadAccepted(tx, event.ID)
		return err
	}, s.snapshotOptions())
	if err != nil {
		return nil, err
	}

	out := &Standings{
		Event:    *event,
		Users:    RankStandings(roster, accepted),
		Requests: accepted,
	}
	if caller := CanonicalWallet(callerWallet); caller != "" {
		for i := range out.Users {
			if out.Users[i].WalletAddress == caller {
				me := out.Users[i]
				out.CurrentUser = &me
				break
			}
		}
	}
	return out, nil
}

// snapshotOptions makes the roster and request reads see one snapshot on
// PostgreSQL. SQLite serializes transactions already.
func (s *StandingsService) snapshotOptions() *sql.TxOptions {
	if s.DB.Dialector.Name() == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

func loadRoster(tx *gorm.DB, eventID string) ([]RosterEntry, error) {
	var links []models.EventUser
	err := tx.Preload("User").
		Where("event_id = ?", eventID).
		Order("id ASC").
		Find(&links).Error
	if err != nil {
		return nil, storageErr("load roster", err)
	}
	roster := make([]RosterEntry, 0, len(links))
	for _, l := range links {
		if l.User == nil {
			continue
		}
		roster = append(roster, RosterEntry{Seq: l.ID, User: *l.User})
	}
	return roster, nil
}

func loadAccepted(tx *gorm.DB, eventID string) ([]models.Request, error) {
	requests := []models.Request{}
	err := tx.Preload("User").Preload("TargetUser").
		Where("event_id = ? AND status = ?", eventID, models.RequestStatusAccepted).
		Order("created_at ASC").Order("id").
		Find(&requests).Error
	if err != nil {
		return nil, storageErr("load accepted requests", err)
	}
	return requests, nil
}

// RankStandings counts one connection per accepted request for each endpoint
// on the roster, then orders by connections descending and enrollment order.
func RankStandings(roster []RosterEntry, accepted []models.Request) []Standing {
	counts := make(map[string]int, len(roster))
	for _, r := range roster {
		counts[r.User.ID] = 0
	}
	for _, req := range accepted {
		if req.Status != models.RequestStatusAccepted || req.UserID == req.TargetUserID {
			continue
		}
		if _, ok := counts[req.UserID]; ok {
			counts[req.UserID]++
		}
		if _, ok := counts[req.TargetUserID]; ok {
			counts[req.TargetUserID]++
		}
	}

	ordered := make([]RosterEntry, len(roster))
	copy(ordered, roster)
	sort.SliceStable(ordered, func(i, j int) bool {
		ci, cj := counts[ordered[i].User.ID], counts[ordered[j].User.ID]
		if ci != cj {
			return ci > cj
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	out := make([]Standing, len(ordered))
	for i, r := range ordered {
		out[i] = Standing{
			ID:            r.User.ID,
			Name:          r.User.Name,
			Email:         r.User.EmailOrEmpty(),
			WalletAddress: r.User.WalletAddress,
			Connections:   counts[r.User.ID],
		}
	}
	return out
}
