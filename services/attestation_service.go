package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"pocp/metrics"
	"pocp/models"

	"go.uber.org/zap"
)

// AttestationSchema is the on-chain schema the payloads are shaped for.
const AttestationSchema = "string eventId, string eventType, uint8 connectionCount, address[] connectedAddresses"

// AttestationPayload is the data a proof-of-connection attestation carries
// for one attendee.
type AttestationPayload struct {
	Recipient          string   `json:"recipient"`
	EventID            string   `json:"event_id"`
	EventType          string   `json:"event_type"`
	ConnectionCount    uint8    `json:"connection_count"`
	ConnectedAddresses []string `json:"connected_addresses"`
}

// AttestationSnapshot is the document written for a whole event.
type AttestationSnapshot struct {
	Schema      string               `json:"schema"`
	EventSlug   string               `json:"event_slug"`
	GeneratedAt time.Time            `json:"generated_at"`
	Payloads    []AttestationPayload `json:"payloads"`
}

// ObjectWriter stores a blob under a key.
type ObjectWriter interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
}

type AttestationService struct {
	Standings *StandingsService
	Store     ObjectWriter
	EventType string
	Log       *zap.Logger
	now       func() time.Time
}

func NewAttestationService(standings *StandingsService, store ObjectWriter, eventType string, log *zap.Logger) *AttestationService {
	return &AttestationService{
		Standings: standings,
		Store:     store,
		EventType: eventType,
		Log:       log,
		now:       time.Now,
	}
}

// BuildPayload returns the attestation data for one enrolled wallet.
func (s *AttestationService) BuildPayload(ctx context.Context, slug, wallet string) (*AttestationPayload, error) {
	w, err := requireWallet("wallet", wallet)
	if err != nil {
		return nil, err
	}
	st, err := s.Standings.GetEventStandings(ctx, slug, w)
	if err != nil {
		return nil, err
	}
	if st.CurrentUser == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotEnrolled, w)
	}
	payloads := buildPayloads(st, s.EventType)
	for i := range payloads {
		if payloads[i].Recipient == w {
			return &payloads[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUserNotEnrolled, w)
}

// ExportEvent writes every attendee's payload as one JSON document and
// returns the object key.
func (s *AttestationService) ExportEvent(ctx context.Context, slug string) (string, error) {
	if s.Store == nil {
		return "", fmt.Errorf("attestation export has no object store configured")
	}
	st, err := s.Standings.GetEventStandings(ctx, slug, "")
	if err != nil {
		return "", err
	}

	generated := s.now().UTC()
	doc := AttestationSnapshot{
		Schema:      AttestationSchema,
		EventSlug:   st.Event.Slug,
		GeneratedAt: generated,
		Payloads:    buildPayloads(st, s.EventType),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode attestation snapshot: %w", err)
	}

	key := fmt.Sprintf("attestations/%s/%d.json", st.Event.Slug, generated.Unix())
	if err := s.Store.PutObject(ctx, key, "application/json", body); err != nil {
		metrics.AttestationExports.WithLabelValues("error").Inc()
		return "", fmt.Errorf("upload attestation snapshot: %w", err)
	}
	metrics.AttestationExports.WithLabelValues("ok").Inc()
	s.Log.Info("attestation snapshot exported", zap.String("slug", slug), zap.String("key", key),
		zap.Int("payloads", len(doc.Payloads)))
	return key, nil
}

// buildPayloads derives one payload per ranked user from the accepted requests.
func buildPayloads(st *Standings, eventType string) []AttestationPayload {
	peers := make(map[string][]string, len(st.Users))
	for _, r := range st.Requests {
		if r.User == nil || r.TargetUser == nil {
			continue
		}
		peers[r.UserID] = append(peers[r.UserID], r.TargetUser.WalletAddress)
		peers[r.TargetUserID] = append(peers[r.TargetUserID], r.User.WalletAddress)
	}

	out := make([]AttestationPayload, 0, len(st.Users))
	for _, u := range st.Users {
		addrs := peers[u.ID]
		if addrs == nil {
			addrs = []string{}
		}
		sort.Strings(addrs)
		out = append(out, AttestationPayload{
			Recipient:          u.WalletAddress,
			EventID:            st.Event.Name,
			EventType:          eventType,
			ConnectionCount:    connectionCount(u.Connections),
			ConnectedAddresses: addrs,
		})
	}
	return out
}

// connectionCount saturates at the schema's uint8 ceiling.
func connectionCount(n int) uint8 {
	if n > math.MaxUint8 {
		return math.MaxUint8
	}
	if n < 0 {
		return 0
	}
	return uint8(n)
}

// ListEventSlugs returns the slug of every event, oldest first.
func (s *AttestationService) ListEventSlugs(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.Standings.Timeout)
	defer cancel()

	var slugs []string
	err := s.Standings.DB.WithContext(ctx).
		Model(&models.Event{}).
		Order("created_at ASC").
		Pluck("slug", &slugs).Error
	if err != nil {
		return nil, storageErr("list events", err)
	}
	return slugs, nil
}
