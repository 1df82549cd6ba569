package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/segyhp/settlement-engine/pkg/response"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewHealthHandler checks the database and redis when they are configured.
func NewHealthHandler(db *sqlx.DB, rdb *redis.Client, timeout time.Duration) *HealthHandler {
	h := NewHealthHandlerWithChecks(nil, timeout)
	if db != nil {
		h.checks["database"] = db.PingContext
	}
	if rdb != nil {
		h.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return h
}

func NewHealthHandlerWithChecks(checks map[string]Check, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if checks == nil {
		checks = make(map[string]Check)
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Health performs a basic health check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	})
}

// Ready pings every configured dependency.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status.Status = "error"
			status.Checks[name] = "failed: " + err.Error()
			continue
		}
		status.Checks[name] = "ok"
	}

	if status.Status == "error" {
		response.JSON(w, http.StatusServiceUnavailable, status)
		return
	}

	response.Success(w, status)
}
