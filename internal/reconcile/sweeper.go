package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
)

type OpenSessionLister interface {
	ListOpenSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.PaymentSession, error)
}

// Sweeper periodically checks sessions nobody resolved: the client went
// away and no webhook arrived.
type Sweeper struct {
	sessions OpenSessionLister
	r        *Reconciler
	interval time.Duration
	minAge   time.Duration
	batch    int
	log      *slog.Logger
	now      func() time.Time
}

func NewSweeper(sessions OpenSessionLister, r *Reconciler, interval, minAge time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		r:        r,
		interval: interval,
		minAge:   minAge,
		batch:    50,
		log:      log.With("component", "session-sweeper"),
		now:      time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sessions, err := s.sessions.ListOpenSessions(ctx, s.now().Add(-s.minAge), s.batch)
	if err != nil {
		s.log.ErrorContext(ctx, "list open sessions failed", "error", err)
		return
	}
	for _, session := range sessions {
		res, err := s.r.Check(ctx, session)
		if err != nil {
			s.log.WarnContext(ctx, "sweep check failed", "session_id", session.SessionID, "error", err)
			continue
		}
		if res.Outcome != OutcomePending {
			s.log.InfoContext(ctx, "stale session resolved", "session_id", session.SessionID, "outcome", res.Outcome)
		}
	}
}
