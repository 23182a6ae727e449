package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govreview/api/internal/email"
	"govreview/api/internal/logging"
	"govreview/api/internal/store"
	"govreview/api/internal/workflow"
)

type fakeStore struct {
	mu      sync.Mutex
	due     []store.ExpiringLCID
	listErr error
	claimed map[string]store.Action
	gotNow  time.Time
	gotCut  time.Time
}

func (f *fakeStore) ListExpiringLCIDs(_ context.Context, now, cutoff time.Time) ([]store.ExpiringLCID, error) {
	f.gotNow, f.gotCut = now, cutoff
	return f.due, f.listErr
}

func (f *fakeStore) MarkExpirationAlertSent(_ context.Context, intakeID string, _ time.Time, action store.Action) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed == nil {
		f.claimed = map[string]store.Action{}
	}
	if _, ok := f.claimed[intakeID]; ok {
		return false, nil
	}
	f.claimed[intakeID] = action
	return true, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []email.Notification
	fail map[string]error
}

func (f *fakeNotifier) NotifyAction(_ context.Context, n email.Notification, recipients store.Recipients) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[n.IntakeID]; err != nil {
		return 0, err
	}
	f.sent = append(f.sent, n)
	return len(recipients.RegularRecipientEmails) + 1, nil
}

var sweepNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newSweeper(st *fakeStore, n *fakeNotifier) *Sweeper {
	s := NewSweeper(st, n, logging.Discard(), 0)
	s.now = func() time.Time { return sweepNow }
	return s
}

func TestSweepAlertsEachDueLCIDOnce(t *testing.T) {
	st := &fakeStore{due: []store.ExpiringLCID{
		{IntakeID: "int_a", RequestName: "A", RequesterEmail: "a@example.gov", LCID: "26001001", ExpiresAt: sweepNow.Add(10 * 24 * time.Hour)},
		{IntakeID: "int_b", RequestName: "B", RequesterEmail: "b@example.gov", LCID: "26001002", ExpiresAt: sweepNow.Add(40 * 24 * time.Hour)},
	}}
	notifier := &fakeNotifier{}
	sweeper := newSweeper(st, notifier)

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Found: 2, Claimed: 2, Sent: 2}, result)
	assert.Equal(t, sweepNow, st.gotNow)
	assert.Equal(t, sweepNow.Add(defaultWindow), st.gotCut)
	assert.Len(t, notifier.sent, 2)

	action := st.claimed["int_a"]
	assert.Equal(t, workflow.TypeExpirationAlert, action.Type)
	assert.Equal(t, []string{"a@example.gov"}, action.Recipients.RegularRecipientEmails)
	assert.True(t, action.Recipients.ShouldNotifyITGovernance)
	assert.Equal(t, "26001001", action.Details["lcid"])

	// A second sweep over the same rows finds them already claimed.
	result, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Found: 2}, result)
	assert.Len(t, notifier.sent, 2)
}

func TestSweepCountsSendFailures(t *testing.T) {
	st := &fakeStore{due: []store.ExpiringLCID{
		{IntakeID: "int_a", RequesterEmail: "a@example.gov", LCID: "26001001", ExpiresAt: sweepNow.Add(24 * time.Hour)},
		{IntakeID: "int_b", RequesterEmail: "b@example.gov", LCID: "26001002", ExpiresAt: sweepNow.Add(24 * time.Hour)},
	}}
	notifier := &fakeNotifier{fail: map[string]error{"int_b": errors.New("smtp down")}}

	result, err := newSweeper(st, notifier).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Found: 2, Claimed: 1, Sent: 1, Failed: 1}, result)
	assert.Contains(t, st.claimed, "int_b")
}

func TestSweepListError(t *testing.T) {
	st := &fakeStore{listErr: errors.New("db down")}
	_, err := newSweeper(st, &fakeNotifier{}).Sweep(context.Background())
	require.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	st := &fakeStore{}
	sweeper := newSweeper(st, &fakeNotifier{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
