package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"pocp/middleware"
	"pocp/models"
	"pocp/services"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
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

	log := zap.NewNop()
	timeout := 5 * time.Second
	enrollment := services.NewEnrollmentService(db, log, nil, timeout)
	requests := services.NewRequestService(db, log, nil, timeout)
	standings := services.NewStandingsService(db, log, timeout)
	users := services.NewUserService(db, log, timeout)
	attestations := services.NewAttestationService(standings, nil, "IN_PERSON", log)

	app := fiber.New()
	SetupHealthRoutes(app, db)
	SetupEventRoutes(app, enrollment, users)
	SetupRequestRoutes(app, requests)
	SetupStandingsRoutes(app, standings, attestations, time.Second, log)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, wallet string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		req.Header.Set(middleware.WalletHeader, wallet)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

const (
	alice = "0xA11CE00000000000000000000000000000000001"
	bob   = "0xB0B0000000000000000000000000000000000002"
	carol = "0xCA201000000000000000000000000000000000003"
)

func seed(t *testing.T, app *fiber.App) {
	t.Helper()
	status, body := do(t, app, "POST", "/events", alice, map[string]any{
		"event_name": "POCP Hangout",
		"attendees": []map[string]any{
			{"name": "Alice", "email": "alice@pocp.xyz", "wallet_address": alice},
			{"name": "Bob", "email": "bob@pocp.xyz", "wallet_address": bob},
			{"name": "Carol", "email": "carol@pocp.xyz", "wallet_address": carol},
		},
	})
	require.Equal(t, fiber.StatusCreated, status, body)
}

func TestConnectionFlow(t *testing.T) {
	app := newTestApp(t)
	seed(t, app)

	status, body := do(t, app, "GET", "/events/POCP-Hangout/members/"+strings.ToLower(bob), "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["is_in_event"])

	status, body = do(t, app, "POST", "/events/POCP-Hangout/requests", alice, map[string]any{"target_wallet": bob})
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "PENDING", body["status"])
	id := body["id"].(string)

	status, body = do(t, app, "POST", "/events/POCP-Hangout/requests", bob, map[string]any{"target_wallet": alice})
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "DUPLICATE_REQUEST", body["code"])

	status, body = do(t, app, "POST", "/events/POCP-Hangout/requests/"+id+"/accept", alice, nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "NOT_RECIPIENT", body["code"])

	status, body = do(t, app, "POST", "/events/POCP-Hangout/requests/"+id+"/accept", bob, nil)
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Equal(t, "ACCEPTED", body["status"])

	status, body = do(t, app, "POST", "/events/POCP-Hangout/requests/"+id+"/reject", bob, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", body["code"])

	status, body = do(t, app, "GET", "/events/POCP-Hangout/standings", bob, nil)
	require.Equal(t, fiber.StatusOK, status)
	users := body["users"].([]any)
	require.Len(t, users, 3)
	first := users[0].(map[string]any)
	assert.Equal(t, "Alice", first["name"])
	assert.EqualValues(t, 1, first["connections"])
	current := body["current_user"].(map[string]any)
	assert.Equal(t, "Bob", current["name"])
	assert.Len(t, body["requests"].([]any), 1)

	status, body = do(t, app, "GET", "/events/POCP-Hangout/requests", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["requests"].([]any), 1)

	status, body = do(t, app, "GET", "/events/POCP-Hangout/attestation", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	payload := body["payload"].(map[string]any)
	assert.EqualValues(t, 1, payload["connection_count"])
	assert.Equal(t, []any{strings.ToLower(bob)}, payload["connected_addresses"])
}

func TestEventRoutes_Errors(t *testing.T) {
	app := newTestApp(t)
	seed(t, app)

	tests := []struct {
		name   string
		method string
		path   string
		wallet string
		body   any
		status int
		code   string
	}{
		{"duplicate slug", "POST", "/events", alice, map[string]any{"event_name": "  POCP   Hangout "}, fiber.StatusConflict, "DUPLICATE_SLUG"},
		{"missing event name", "POST", "/events", alice, map[string]any{"event_name": "  "}, fiber.StatusBadRequest, "INVALID_INPUT"},
		{"unknown event", "GET", "/events/nope", "", nil, fiber.StatusNotFound, "EVENT_NOT_FOUND"},
		{"self request", "POST", "/events/POCP-Hangout/requests", alice, map[string]any{"target_wallet": alice}, fiber.StatusBadRequest, "SELF_REQUEST"},
		{"not enrolled", "POST", "/events/POCP-Hangout/requests", "0xdead", map[string]any{"target_wallet": alice}, fiber.StatusForbidden, "USER_NOT_ENROLLED"},
		{"unknown request", "POST", "/events/POCP-Hangout/requests/nope/accept", bob, nil, fiber.StatusNotFound, "REQUEST_NOT_FOUND"},
		{"missing wallet", "POST", "/events/POCP-Hangout/requests", "", map[string]any{"target_wallet": alice}, fiber.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown user", "GET", "/users/me", "0xdead", nil, fiber.StatusNotFound, "USER_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, tt.method, tt.path, tt.wallet, tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestCreateEvent_SlugKeepsNameCharacters(t *testing.T) {
	app := newTestApp(t)

	create := func(name string) string {
		t.Helper()
		status, body := do(t, app, "POST", "/events", alice, map[string]any{
			"event_name": name,
			"attendees":  []map[string]any{{"name": "Alice", "email": "alice@pocp.xyz", "wallet_address": alice}},
		})
		require.Equal(t, fiber.StatusCreated, status, body)
		return body["event"].(map[string]any)["slug"].(string)
	}

	plain := create("C Night")
	plus := create("C++ Night")
	party := create("🎉 🎉")
	assert.Equal(t, "C-Night", plain)
	assert.Equal(t, "C++-Night", plus)
	assert.Equal(t, "🎉-🎉", party)

	for _, tc := range []struct{ slug, name string }{
		{plain, "C Night"},
		{plus, "C++ Night"},
		{party, "🎉 🎉"},
	} {
		status, body := do(t, app, "GET", "/events/"+url.PathEscape(tc.slug), "", nil)
		require.Equal(t, fiber.StatusOK, status, tc.slug)
		assert.Equal(t, tc.name, body["name"])

		status, body = do(t, app, "GET", "/events/"+url.PathEscape(tc.slug)+"/requests", alice, nil)
		require.Equal(t, fiber.StatusOK, status, tc.slug)
		assert.Empty(t, body["requests"])
	}
}

func TestStandings_AnonymousCaller(t *testing.T) {
	app := newTestApp(t)
	seed(t, app)

	status, body := do(t, app, "GET", "/events/POCP-Hangout/standings", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Nil(t, body["current_user"])
	assert.Len(t, body["users"].([]any), 3)
}

func TestUsersConnect(t *testing.T) {
	app := newTestApp(t)

	status, body := do(t, app, "POST", "/users/connect", "0xNEW", nil)
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "0xnew", body["wallet_address"])

	status, _ = do(t, app, "POST", "/users/connect", "0xnew", nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	status, body := do(t, app, "GET", "/healthz", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = do(t, app, "GET", "/metrics", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{services.ErrEventNotFound, fiber.StatusNotFound},
		{services.ErrRequestNotFound, fiber.StatusNotFound},
		{services.ErrDuplicateSlug, fiber.StatusConflict},
		{services.ErrDuplicateRequest, fiber.StatusConflict},
		{services.ErrInvalidTransition, fiber.StatusConflict},
		{services.ErrWalletTaken, fiber.StatusConflict},
		{services.ErrUserNotEnrolled, fiber.StatusForbidden},
		{services.ErrNotRecipient, fiber.StatusForbidden},
		{services.ErrSelfRequest, fiber.StatusBadRequest},
		{services.ErrInvalidInput, fiber.StatusBadRequest},
		{&services.StorageError{Op: "find", Err: errors.New("reset")}, fiber.StatusInternalServerError},
		{&services.StorageError{Op: "find", Err: fmt.Errorf("query: %w", context.DeadlineExceeded)}, fiber.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestFingerprint(t *testing.T) {
	a := &services.Standings{Users: []services.Standing{{ID: "u1", Connections: 1}, {ID: "u2", Connections: 1}}}
	b := &services.Standings{Users: []services.Standing{{ID: "u2", Connections: 1}, {ID: "u1", Connections: 1}}}
	assert.NotEqual(t, fingerprint(a), fingerprint(b))
	assert.Equal(t, fingerprint(a), fingerprint(a))
}
