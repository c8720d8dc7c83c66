package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"pocp/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testTimeout = 5 * time.Second

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

type fixture struct {
	db         *gorm.DB
	enrollment *EnrollmentService
	requests   *RequestService
	standings  *StandingsService
	users      *UserService
}

func newFixture(t *testing.T) *fixture {
	db := newTestDB(t)
	log := zap.NewNop()
	return &fixture{
		db:         db,
		enrollment: NewEnrollmentService(db, log, nil, testTimeout),
		requests:   NewRequestService(db, log, nil, testTimeout),
		standings:  NewStandingsService(db, log, testTimeout),
		users:      NewUserService(db, log, testTimeout),
	}
}

func wallet(i int) string {
	return fmt.Sprintf("0x%040X", i+1)
}

func attendees(n int) []Attendee {
	out := make([]Attendee, n)
	for i := range out {
		out[i] = Attendee{
			Name:          fmt.Sprintf("User %d", i),
			Email:         fmt.Sprintf("user%d@pocp.xyz", i),
			WalletAddress: wallet(i),
		}
	}
	return out
}

// seedEvent enrolls n generated attendees and returns the event slug.
func (f *fixture) seedEvent(t *testing.T, name string, n int) string {
	t.Helper()
	res, err := f.enrollment.EnrollUsers(context.Background(), EnrollInput{
		EventName: name,
		Slug:      EventSlug(name),
		Creator:   wallet(0),
		Attendees: attendees(n),
	})
	require.NoError(t, err)
	return res.Event.Slug
}

func (f *fixture) connect(t *testing.T, slug string, from, to int) *models.Request {
	t.Helper()
	req, err := f.requests.SendRequest(context.Background(), slug, wallet(from), wallet(to))
	require.NoError(t, err)
	accepted, err := f.requests.AcceptRequest(context.Background(), req.ID, slug, wallet(to))
	require.NoError(t, err)
	return accepted
}
