package workflow

import (
	"fmt"
	"time"
)

type LCIDStatus string

const (
	LCIDIssued       LCIDStatus = "ISSUED"
	LCIDExpired      LCIDStatus = "EXPIRED"
	LCIDExpiringSoon LCIDStatus = "EXPIRING_SOON"
	LCIDRetired      LCIDStatus = "RETIRED"
	LCIDRetiringSoon LCIDStatus = "RETIRING_SOON"
)

type LCIDAction string

const (
	LCIDActionRetire LCIDAction = "retire"
	LCIDActionUpdate LCIDAction = "update"
	LCIDActionExpire LCIDAction = "expire"
)

// DefaultSoonWindow is how far ahead an expiration or retirement counts as "soon".
const DefaultSoonWindow = 60 * 24 * time.Hour

// Lifecycle is the part of an LCID record that determines its status.
type Lifecycle struct {
	LCID      string
	ExpiresAt time.Time
	RetiresAt *time.Time
}

// LCIDStatusAt derives the status of an LCID at now. A nil record has no
// status. Retirement takes precedence over expiration.
func LCIDStatusAt(record *Lifecycle, now time.Time, soonWindow time.Duration) *LCIDStatus {
	if record == nil || record.LCID == "" {
		return nil
	}
	status := LCIDIssued
	switch {
	case record.RetiresAt != nil && !record.RetiresAt.After(now):
		status = LCIDRetired
	case !record.ExpiresAt.IsZero() && !record.ExpiresAt.After(now):
		status = LCIDExpired
	case record.RetiresAt != nil && record.RetiresAt.Sub(now) <= soonWindow:
		status = LCIDRetiringSoon
	case !record.ExpiresAt.IsZero() && record.ExpiresAt.Sub(now) <= soonWindow:
		status = LCIDExpiringSoon
	}
	return &status
}

// LCIDActions lists the manage-LCID actions for status. No LCID means no
// actions. Expire is only offered while the LCID is plainly ISSUED.
func LCIDActions(status *LCIDStatus) []LCIDAction {
	if status == nil {
		return []LCIDAction{}
	}
	actions := []LCIDAction{LCIDActionRetire, LCIDActionUpdate}
	if *status == LCIDIssued {
		actions = append(actions, LCIDActionExpire)
	}
	return actions
}

func HasLCIDAction(status *LCIDStatus, action LCIDAction) bool {
	for _, candidate := range LCIDActions(status) {
		if candidate == action {
			return true
		}
	}
	return false
}

// MaxLCIDsPerDay bounds the three-digit daily sequence in a generated LCID.
const MaxLCIDsPerDay = 999

// LCIDPrefix is the YYDDD part of an LCID issued on day t (two-digit year,
// three-digit day of year).
func LCIDPrefix(t time.Time) string {
	return fmt.Sprintf("%s%03d", t.Format("06"), t.YearDay())
}

// FormatLCID builds the YYDDDNNN identifier for the seq'th LCID issued on day t.
func FormatLCID(t time.Time, seq int) (string, error) {
	if seq < 1 || seq > MaxLCIDsPerDay {
		return "", fmt.Errorf("lcid sequence %d out of range", seq)
	}
	return fmt.Sprintf("%s%03d", LCIDPrefix(t), seq), nil
}
