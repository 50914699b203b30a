package health

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the overall verdict of a Report.
type Status string

// Overall statuses. Unhealthy means no store answered.
const (
	Healthy   Status = "ok"
	Degraded  Status = "degraded"
	Unhealthy Status = "error"
)

// CheckResult is the verdict for one component.
type CheckResult string

// Component verdicts.
const (
	CheckOK    CheckResult = "ok"
	CheckError CheckResult = "error"
)

const embeddingCheck = "embedding"

// Report is what /health returns.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

type component struct {
	name  string
	store bool
	check func(ctx context.Context) error
}

// Service pings the registered stores and the embedding provider.
type Service struct {
	components []component
	timeout    time.Duration
}

// New returns a Service with no components.
func New() *Service {
	return &Service{}
}

// WithStore registers a store driver under name.
func (s *Service) WithStore(name string, p Pinger) *Service {
	s.components = append(s.components, component{name: name, store: true, check: p.Ping})
	return s
}

// WithEmbedding registers the embedding provider. A nil checker is ignored.
func (s *Service) WithEmbedding(e EmbeddingChecker) *Service {
	if e != nil {
		s.components = append(s.components, component{name: embeddingCheck, check: e.HealthCheck})
	}
	return s
}

// WithTimeout bounds each component check. Zero leaves only ctx in charge.
func (s *Service) WithTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

// Check runs all component checks concurrently.
func (s *Service) Check(ctx context.Context) Report {
	failed := make([]bool, len(s.components))
	var g errgroup.Group
	for i, c := range s.components {
		g.Go(func() error {
			cctx := ctx
			if s.timeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}
			failed[i] = c.check(cctx) != nil
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: Healthy, Checks: make(map[string]CheckResult, len(s.components))}
	stores, storesDown := 0, 0
	for i, c := range s.components {
		if c.store {
			stores++
		}
		if !failed[i] {
			report.Checks[c.name] = CheckOK
			continue
		}
		report.Checks[c.name] = CheckError
		report.Status = Degraded
		if c.store {
			storesDown++
		}
	}
	if stores > 0 && storesDown == stores {
		report.Status = Unhealthy
	}
	return report
}
