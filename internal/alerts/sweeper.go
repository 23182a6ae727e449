// Package alerts emails requesters before their Life Cycle ID expires.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"govreview/api/internal/email"
	"govreview/api/internal/store"
	"govreview/api/internal/util"
	"govreview/api/internal/workflow"
)

const (
	defaultWindow = 60 * 24 * time.Hour
	maxInFlight   = 4
	systemActor   = "IT Governance automation"
)

type Store interface {
	ListExpiringLCIDs(ctx context.Context, now, cutoff time.Time) ([]store.ExpiringLCID, error)
	MarkExpirationAlertSent(ctx context.Context, intakeID string, sentAt time.Time, action store.Action) (bool, error)
}

type Notifier interface {
	NotifyAction(ctx context.Context, n email.Notification, recipients store.Recipients) (int, error)
}

// Result summarizes one sweep.
type Result struct {
	Found   int `json:"found"`
	Sent    int `json:"sent"`
	Claimed int `json:"claimed"`
	Failed  int `json:"failed"`
}

type Sweeper struct {
	store    Store
	notifier Notifier
	logger   *log.Logger
	window   time.Duration
	now      func() time.Time
}

func NewSweeper(st Store, notifier Notifier, logger *log.Logger, window time.Duration) *Sweeper {
	if window <= 0 {
		window = defaultWindow
	}
	return &Sweeper{store: st, notifier: notifier, logger: logger, window: window, now: time.Now}
}

// Sweep alerts every LCID that expires within the window and has not been
// alerted since it was issued or last updated. An intake is claimed before
// its email goes out, so concurrent sweeps never alert twice; a failed send
// is logged and not retried by later sweeps.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	due, err := s.store.ListExpiringLCIDs(ctx, now, now.Add(s.window))
	if err != nil {
		return Result{}, fmt.Errorf("list expiring lcids: %w", err)
	}

	var claimed, sent, failed atomic.Int64
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxInFlight)
	for _, item := range due {
		group.Go(func() error {
			ok, delivered, err := s.alert(gctx, item, now)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Error("lcid expiration alert failed", "intake_id", item.IntakeID, "lcid", item.LCID, "err", err)
			case ok:
				claimed.Add(1)
				if delivered {
					sent.Add(1)
				}
				s.logger.Info("lcid expiration alert", "intake_id", item.IntakeID, "lcid", item.LCID,
					"expires_at", item.ExpiresAt.Format(time.DateOnly), "emailed", delivered)
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, err
	}
	return Result{
		Found:   len(due),
		Claimed: int(claimed.Load()),
		Sent:    int(sent.Load()),
		Failed:  int(failed.Load()),
	}, nil
}

func (s *Sweeper) alert(ctx context.Context, item store.ExpiringLCID, now time.Time) (bool, bool, error) {
	recipients := store.Recipients{
		RegularRecipientEmails:   []string{item.RequesterEmail},
		ShouldNotifyITGovernance: true,
	}
	details := map[string]any{
		"lcid":      item.LCID,
		"expiresAt": item.ExpiresAt.Format(time.DateOnly),
	}
	action := store.Action{
		ID:         util.NewID("act"),
		IntakeID:   item.IntakeID,
		Type:       workflow.TypeExpirationAlert,
		ActorName:  systemActor,
		Details:    details,
		Recipients: recipients,
		CreatedAt:  now,
	}
	ok, err := s.store.MarkExpirationAlertSent(ctx, item.IntakeID, now, action)
	if err != nil || !ok {
		return false, false, err
	}

	count, err := s.notifier.NotifyAction(ctx, email.Notification{
		Type:        workflow.TypeExpirationAlert,
		IntakeID:    item.IntakeID,
		RequestName: item.RequestName,
		Details:     details,
	}, recipients)
	if err != nil {
		return true, false, fmt.Errorf("send alert: %w", err)
	}
	return true, count > 0, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if result, err := s.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("lcid sweep failed", "err", err)
		} else if result.Found > 0 {
			s.logger.Info("lcid sweep complete", "found", result.Found, "claimed", result.Claimed, "sent", result.Sent, "failed", result.Failed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
