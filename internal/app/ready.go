package app

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ReadyCheck probes one dependency. A failing optional check degrades
// readiness without failing it.
type ReadyCheck struct {
	Name     string
	Optional bool
	Check    func(context.Context) error
}

type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type ReadyReport struct {
	OK     bool                   `json:"ok"`
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Ready runs every registered check concurrently.
func (s *Service) Ready(ctx context.Context) ReadyReport {
	report := ReadyReport{OK: true, Status: "ready", Checks: make(map[string]CheckResult, len(s.checks))}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	for _, check := range s.checks {
		group.Go(func() error {
			result := CheckResult{Status: "ok"}
			err := check.Check(groupCtx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
			case check.Optional:
				result = CheckResult{Status: "degraded", Error: err.Error()}
				if report.Status == "ready" {
					report.Status = "degraded"
				}
			default:
				result = CheckResult{Status: "error", Error: err.Error()}
				report.OK = false
				report.Status = "not_ready"
			}
			report.Checks[check.Name] = result
			return nil
		})
	}
	_ = group.Wait()
	return report
}
