package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/sequence-engine/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

const notConfigured = "not configured"

// HealthChecker reports on the database, Redis, and the sequence worker.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	worker      WorkerMonitor
	staleAfter  time.Duration
	startTime   time.Time
}

// NewHealthChecker creates a new HealthChecker.
// Any dependency can be nil; the check will report "not configured" for nil deps.
// tickInterval is the worker's polling interval; a worker that has not run for
// three intervals is reported as degraded.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, worker WorkerMonitor, tickInterval time.Duration) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redisClient: redisClient,
		worker:      worker,
		staleAfter:  3 * tickInterval,
		startTime:   time.Now(),
	}
}

const healthVersion = "1.0.0"

// HandleHealth returns the status of all components. It always answers 200;
// the body carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())

	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness answers 200 while the process is running.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness answers 503 when a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	httputil.JSON(w, status, map[string]any{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 3)

	go func() { ch <- result{"database", hc.checkDatabase(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"worker", hc.checkWorker()} }()

	checks := make(map[string]ComponentCheck, 3)
	for i := 0; i < 3; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

// checkDatabase pings PostgreSQL with a 3-second timeout.
func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: notConfigured}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	return latencyCheck(time.Since(start), time.Second, err)
}

// checkRedis pings Redis with a 2-second timeout.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "down", Message: notConfigured}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redisClient.Ping(pingCtx).Err()
	return latencyCheck(time.Since(start), 500*time.Millisecond, err)
}

func latencyCheck(latency, slow time.Duration, err error) ComponentCheck {
	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}
	if latency > slow {
		return ComponentCheck{
			Status:  "degraded",
			Latency: latency.String(),
			Message: fmt.Sprintf("slow response (%s)", latency),
		}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

// checkWorker reports the sequence worker's last poll.
func (hc *HealthChecker) checkWorker() ComponentCheck {
	if hc.worker == nil {
		return ComponentCheck{Status: "down", Message: notConfigured}
	}
	if !hc.worker.IsHealthy() {
		return ComponentCheck{Status: "degraded", Message: "last due-enrollment query failed"}
	}

	last := hc.worker.LastRunAt()
	if last.IsZero() {
		return ComponentCheck{Status: "up", Message: "waiting for first tick"}
	}
	age := time.Since(last)
	if hc.staleAfter > 0 && age > hc.staleAfter {
		return ComponentCheck{Status: "degraded", Message: fmt.Sprintf("last tick %s ago", age.Round(time.Second))}
	}
	return ComponentCheck{Status: "up", Message: fmt.Sprintf("last tick %s ago", age.Round(time.Second))}
}

// determineOverallStatus derives the aggregate status from individual checks.
//
// Rules:
//   - "unhealthy" if the database is configured and down
//   - "degraded"  if any check is degraded or a configured check is down
//   - "healthy"   otherwise
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == "down" && db.Message != notConfigured {
		return "unhealthy"
	}

	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != notConfigured {
			return "degraded"
		}
	}
	return "healthy"
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
