package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusPtr(status LCIDStatus) *LCIDStatus {
	return &status
}

func TestLCIDActions(t *testing.T) {
	cases := []struct {
		name   string
		status *LCIDStatus
		want   []LCIDAction
	}{
		{name: "issued", status: statusPtr(LCIDIssued), want: []LCIDAction{LCIDActionRetire, LCIDActionUpdate, LCIDActionExpire}},
		{name: "retired", status: statusPtr(LCIDRetired), want: []LCIDAction{LCIDActionRetire, LCIDActionUpdate}},
		{name: "expired", status: statusPtr(LCIDExpired), want: []LCIDAction{LCIDActionRetire, LCIDActionUpdate}},
		{name: "expiring soon", status: statusPtr(LCIDExpiringSoon), want: []LCIDAction{LCIDActionRetire, LCIDActionUpdate}},
		{name: "retiring soon", status: statusPtr(LCIDRetiringSoon), want: []LCIDAction{LCIDActionRetire, LCIDActionUpdate}},
		{name: "none", status: nil, want: []LCIDAction{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LCIDActions(tc.status)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, LCIDActions(tc.status))
			assert.Equal(t, tc.status != nil && *tc.status == LCIDIssued, HasLCIDAction(tc.status, LCIDActionExpire))
		})
	}
}

func TestLCIDStatusAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	past := now.Add(-day)
	soon := now.Add(10 * day)
	later := now.Add(365 * day)

	cases := []struct {
		name   string
		record *Lifecycle
		want   *LCIDStatus
	}{
		{name: "no record", record: nil, want: nil},
		{name: "blank lcid", record: &Lifecycle{ExpiresAt: later}, want: nil},
		{name: "issued", record: &Lifecycle{LCID: "26060001", ExpiresAt: later}, want: statusPtr(LCIDIssued)},
		{name: "expired", record: &Lifecycle{LCID: "26060001", ExpiresAt: past}, want: statusPtr(LCIDExpired)},
		{name: "expires exactly now", record: &Lifecycle{LCID: "26060001", ExpiresAt: now}, want: statusPtr(LCIDExpired)},
		{name: "expiring soon", record: &Lifecycle{LCID: "26060001", ExpiresAt: soon}, want: statusPtr(LCIDExpiringSoon)},
		{name: "retired wins over expired", record: &Lifecycle{LCID: "26060001", ExpiresAt: past, RetiresAt: &past}, want: statusPtr(LCIDRetired)},
		{name: "retiring soon", record: &Lifecycle{LCID: "26060001", ExpiresAt: later, RetiresAt: &soon}, want: statusPtr(LCIDRetiringSoon)},
		{name: "retires later", record: &Lifecycle{LCID: "26060001", ExpiresAt: later, RetiresAt: &later}, want: statusPtr(LCIDIssued)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LCIDStatusAt(tc.record, now, DefaultSoonWindow)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tc.want, *got)
		})
	}
}

func TestFormatLCID(t *testing.T) {
	day := time.Date(2026, 2, 5, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, "26036", LCIDPrefix(day))

	lcid, err := FormatLCID(day, 7)
	require.NoError(t, err)
	assert.Equal(t, "26036007", lcid)

	_, err = FormatLCID(day, 0)
	assert.Error(t, err)
	_, err = FormatLCID(day, 1000)
	assert.Error(t, err)
}
