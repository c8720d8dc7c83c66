package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartExportScheduler exports attestation snapshots for every event on a
// fixed interval. The returned scheduler must be shut down by the caller.
func (s *AttestationService) StartExportScheduler(ctx context.Context, every time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { s.exportAll(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	return sched, nil
}

func (s *AttestationService) exportAll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	slugs, err := s.ListEventSlugs(ctx)
	if err != nil {
		s.Log.Error("attestation export: list events failed", zap.Error(err))
		return
	}
	for _, slug := range slugs {
		if _, err := s.ExportEvent(ctx, slug); err != nil {
			s.Log.Error("attestation export failed", zap.String("slug", slug), zap.Error(err))
		}
	}
}
