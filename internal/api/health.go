package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/docpipeline/pkg/core"
)

// Check is one named probe in the health report. Run returns optional data
// to include in the report.
type Check struct {
	Name string
	Run  func(ctx context.Context) (map[string]any, error)
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status   string                 `json:"status"`
	Duration string                 `json:"duration"`
	Checks   map[string]CheckResult `json:"checks"`
}

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// Database is the domain store as seen by the database check.
type Database interface {
	Ping(ctx context.Context) error
	CountUsers(ctx context.Context) (int64, error)
}

// DatabaseCheck pings the database and counts users.
func DatabaseCheck(db Database) Check {
	return Check{
		Name: "database",
		Run: func(ctx context.Context) (map[string]any, error) {
			if err := db.Ping(ctx); err != nil {
				return nil, err
			}
			n, err := db.CountUsers(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"user_count": n}, nil
		},
	}
}

// JobsCheck reads the job counts from the job store.
func JobsCheck(jobs JobReader) Check {
	return Check{
		Name: "jobs",
		Run: func(ctx context.Context) (map[string]any, error) {
			counts, err := jobs.Stats(ctx)
			if err != nil {
				return nil, err
			}
			data := make(map[string]any, len(core.AllStates))
			for state, n := range JobStats(counts) {
				data[string(state)] = n
			}
			return data, nil
		},
	}
}

// Writable is file storage that can verify it accepts writes.
type Writable interface {
	Check(ctx context.Context) error
}

// StorageCheck verifies the upload and PDF directories are writable.
func StorageCheck(storage Writable) Check {
	return Check{
		Name: "storage",
		Run: func(ctx context.Context) (map[string]any, error) {
			return nil, storage.Check(ctx)
		},
	}
}

// Health runs every check concurrently and builds the report.
func (s *Server) Health(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.config.HealthTimeout)
	defer cancel()

	start := time.Now()
	report := HealthReport{Status: statusHealthy, Checks: make(map[string]CheckResult, len(s.checks))}

	results := make([]CheckResult, len(s.checks))
	var g errgroup.Group
	for i, c := range s.checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range s.checks {
		report.Checks[c.Name] = results[i]
		if results[i].Status != statusHealthy {
			report.Status = statusUnhealthy
		}
	}

	report.Duration = time.Since(start).String()
	return report
}

func runCheck(ctx context.Context, c Check) (result CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{Status: statusUnhealthy, Error: errors.Newf("check panicked: %v", r).Error()}
		}
	}()
	data, err := c.Run(ctx)
	if err != nil {
		return CheckResult{Status: statusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: statusHealthy, Data: data}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.Health(r.Context())
	status := http.StatusOK
	if report.Status != statusHealthy {
		status = http.StatusServiceUnavailable
		for name, c := range report.Checks {
			if c.Status != statusHealthy {
				s.config.Logger.Warn("health check failed", "check", name, "error", c.Error)
			}
		}
	}
	writeJSON(w, status, report)
}
