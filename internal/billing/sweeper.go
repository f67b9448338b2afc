// AngelaMos | 2026
// sweeper.go

package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

const defaultSweepBatch = 100

// Sweeper promotes staged tier changes whose effective time has passed,
// for sellers who never open the dashboard to trigger a sync.
type Sweeper struct {
	service  *Service
	profiles profile.Repository
	interval time.Duration
	batch    int
}

func NewSweeper(service *Service, profiles profile.Repository, interval time.Duration, batch int) *Sweeper {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Sweeper{
		service:  service,
		profiles: profiles,
		interval: interval,
		batch:    batch,
	}
}

// Run blocks until ctx is done. A zero interval disables the loop.
func (sw *Sweeper) Run(ctx context.Context) {
	if sw.interval <= 0 {
		slog.Info("pending tier sweeper disabled")
		return
	}

	slog.Info("pending tier sweeper started", "interval", sw.interval.String())

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sw.SweepOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "pending tier sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce walks every seller with a due staged change, one batch at a
// time, and returns how many were reconciled without error. Failed sellers
// are retried on the next run.
func (sw *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := sw.service.now()

	var (
		cursor     *profile.DueCursor
		seen, done int
	)
	for ctx.Err() == nil {
		due, err := sw.profiles.ListDuePending(ctx, now, cursor, sw.batch)
		if err != nil {
			return done, err
		}

		for i := range due {
			if ctx.Err() != nil {
				break
			}
			seen++
			if _, err := sw.service.Reconcile(ctx, due[i].ID); err != nil {
				slog.WarnContext(ctx, "sweep reconcile failed",
					"seller_id", due[i].ID,
					"error", err,
				)
				continue
			}
			done++
		}

		if len(due) < sw.batch {
			break
		}
		cursor = profile.CursorAfter(&due[len(due)-1])
	}

	if seen > 0 {
		slog.InfoContext(ctx, "pending tier sweep finished",
			"due", seen,
			"reconciled", done,
		)
	}
	return done, nil
}
