package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/resume-tracker/internal/ratelimit"
	"golang.org/x/sync/errgroup"
)

const (
	statusOK        = "ok"
	statusDegraded  = "degraded"
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	defaultTimeout = 2 * time.Second
)

// Checker defines the interface for checking service health.
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a plain function to Checker.
type CheckerFunc func(ctx context.Context) error

// Ping calls f.
func (f CheckerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// RedisChecker adapts redis.Client to Checker interface.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// Ping checks Redis connectivity.
func (r *RedisChecker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Handler handles health check operations.
type Handler struct {
	checks  map[string]Checker
	timeout time.Duration
}

// NewHandler creates a health handler probing every named dependency.
func NewHandler(checks map[string]Checker) *Handler {
	return &Handler{checks: checks, timeout: defaultTimeout}
}

// WithTimeout bounds each dependency probe.
func (h *Handler) WithTimeout(d time.Duration) *Handler {
	h.timeout = d

	return h
}

// Response is the response for health check endpoint.
type Response struct {
	Body struct {
		Status       string            `json:"status" enum:"ok,degraded"`
		Dependencies map[string]string `json:"dependencies"`
		Unhealthy    []string          `json:"unhealthy,omitempty"`
	}
}

// Check performs a health check of the application and its dependencies.
// Probes run concurrently; any failing probe marks the service degraded.
func (h *Handler) Check(ctx context.Context, _ *struct{}) (*Response, error) {
	resp := &Response{}
	resp.Body.Status = statusOK
	resp.Body.Dependencies = make(map[string]string, len(h.checks))

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for name, checker := range h.checks {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, h.timeout)
			defer cancel()

			state := statusHealthy
			if err := checker.Ping(pctx); err != nil {
				state = statusUnhealthy
			}

			mu.Lock()
			resp.Body.Dependencies[name] = state
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	for name, state := range resp.Body.Dependencies {
		if state == statusUnhealthy {
			resp.Body.Status = statusDegraded
			resp.Body.Unhealthy = append(resp.Body.Unhealthy, name)
		}
	}

	sort.Strings(resp.Body.Unhealthy)

	return resp, nil
}

// RegisterRoutes registers health check routes.
func RegisterRoutes(api huma.API, h *Handler) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Report dependency health",
		Tags:        []string{"Health"},
		Metadata: map[string]any{
			ratelimit.MetadataKey: ratelimit.Rule{Exempt: true},
		},
	}, h.Check)
}
