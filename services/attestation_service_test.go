package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"pocp/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockObjectWriter struct {
	mock.Mock
}

func (m *mockObjectWriter) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	args := m.Called(key, contentType, body)
	return args.Error(0)
}

func newAttestationService(f *fixture, store ObjectWriter) *AttestationService {
	svc := NewAttestationService(f.standings, store, "IN_PERSON", zap.NewNop())
	svc.now = func() time.Time { return time.Unix(1766702551, 0) }
	return svc
}

func TestBuildPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slug := f.seedEvent(t, "POCP Hangout", 4)
	f.connect(t, slug, 0, 2)
	f.connect(t, slug, 1, 0)

	svc := newAttestationService(f, nil)

	p, err := svc.BuildPayload(ctx, slug, strings.ToUpper(wallet(0)))
	require.NoError(t, err)
	assert.Equal(t, CanonicalWallet(wallet(0)), p.Recipient)
	assert.Equal(t, "POCP Hangout", p.EventID)
	assert.Equal(t, "IN_PERSON", p.EventType)
	assert.EqualValues(t, 2, p.ConnectionCount)
	assert.ElementsMatch(t, []string{CanonicalWallet(wallet(1)), CanonicalWallet(wallet(2))}, p.ConnectedAddresses)

	lonely, err := svc.BuildPayload(ctx, slug, wallet(3))
	require.NoError(t, err)
	assert.Zero(t, lonely.ConnectionCount)
	assert.NotNil(t, lonely.ConnectedAddresses)
	assert.Empty(t, lonely.ConnectedAddresses)

	_, err = svc.BuildPayload(ctx, slug, "0xoutsider")
	assert.ErrorIs(t, err, ErrUserNotEnrolled)
}

func TestExportEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slug := f.seedEvent(t, "POCP Hangout", 3)
	f.connect(t, slug, 0, 1)

	store := new(mockObjectWriter)
	var written []byte
	store.On("PutObject", "attestations/POCP-Hangout/1766702551.json", "application/json", mock.Anything).
		Run(func(args mock.Arguments) { written = args.Get(2).([]byte) }).
		Return(nil)

	key, err := newAttestationService(f, store).ExportEvent(ctx, slug)
	require.NoError(t, err)
	assert.Equal(t, "attestations/POCP-Hangout/1766702551.json", key)
	store.AssertExpectations(t)

	var doc AttestationSnapshot
	require.NoError(t, json.Unmarshal(written, &doc))
	assert.Equal(t, AttestationSchema, doc.Schema)
	assert.Equal(t, "POCP-Hangout", doc.EventSlug)
	require.Len(t, doc.Payloads, 3)
	assert.EqualValues(t, 1, doc.Payloads[0].ConnectionCount)
	assert.EqualValues(t, 1, doc.Payloads[1].ConnectionCount)
	assert.EqualValues(t, 0, doc.Payloads[2].ConnectionCount)
}

func TestExportEvent_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slug := f.seedEvent(t, "POCP Hangout", 1)

	_, err := newAttestationService(f, nil).ExportEvent(ctx, slug)
	assert.Error(t, err, "no store configured")

	store := new(mockObjectWriter)
	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket gone"))
	_, err = newAttestationService(f, store).ExportEvent(ctx, slug)
	assert.ErrorContains(t, err, "bucket gone")

	_, err = newAttestationService(f, store).ExportEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestExportAll(t *testing.T) {
	f := newFixture(t)
	f.seedEvent(t, "POCP Hangout", 2)
	f.seedEvent(t, "Second Meetup", 2)

	store := new(mockObjectWriter)
	store.On("PutObject", "attestations/POCP-Hangout/1766702551.json", "application/json", mock.Anything).Return(nil).Once()
	store.On("PutObject", "attestations/Second-Meetup/1766702551.json", "application/json", mock.Anything).Return(nil).Once()

	newAttestationService(f, store).exportAll(context.Background())
	store.AssertExpectations(t)
}

func TestBuildPayloads_SaturatesConnectionCount(t *testing.T) {
	st := &Standings{
		Event: models.Event{Name: "Mega Meetup"},
		Users: []Standing{
			{ID: "hub", WalletAddress: "0xhub", Connections: 300},
			{ID: "edge", WalletAddress: "0xedge", Connections: 255},
			{ID: "new", WalletAddress: "0xnew"},
		},
	}

	payloads := buildPayloads(st, "IN_PERSON")
	require.Len(t, payloads, 3)
	assert.Equal(t, uint8(255), payloads[0].ConnectionCount)
	assert.Equal(t, uint8(255), payloads[1].ConnectionCount)
	assert.Equal(t, uint8(0), payloads[2].ConnectionCount)

	body, err := json.Marshal(payloads[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), `"connection_count":255`)
}

func TestListEventSlugs(t *testing.T) {
	f := newFixture(t)
	first := f.seedEvent(t, "POCP Hangout", 1)
	second := f.seedEvent(t, "Second Meetup", 1)
	svc := newAttestationService(f, nil)

	slugs, err := svc.ListEventSlugs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first, second}, slugs)

	f.standings.Timeout = time.Nanosecond
	_, err = svc.ListEventSlugs(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err), err.Error())
}
