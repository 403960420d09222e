package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ipwatch/internal/server/api/response"
	"ipwatch/internal/types"
	"ipwatch/internal/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// StatusSource exposes the watch loop state; *watch.Driver satisfies it
type StatusSource interface {
	Last() *types.CycleResult
	Cycles() int
}

// HistoryReader reads recorded changes; *history.Store satisfies it
type HistoryReader interface {
	Recent(ctx context.Context, filter *types.IPChangeFilter) ([]*types.IPChange, error)
	Ping(ctx context.Context) error
}

// API represents the API
type API struct {
	status    StatusSource
	history   HistoryReader
	machine   string
	startedAt time.Time
	logger    *zap.Logger
}

// NewAPI creates new API. history may be nil when recording is disabled.
func NewAPI(status StatusSource, history HistoryReader, machine string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		status:    status,
		history:   history,
		machine:   machine,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// RegisterRoutes registers API routes
func (api *API) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", api.healthCheck)
	r.GET("/status", api.getStatus)
	r.GET("/history", api.getHistory)
	r.GET("/version", api.getVersion)
}

// HealthStatus is the health check payload
type HealthStatus struct {
	Status    string    `json:"status"`
	Machine   string    `json:"machine"`
	Uptime    string    `json:"uptime"`
	Cycles    int       `json:"cycles"`
	LastCycle time.Time `json:"last_cycle,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	History   string    `json:"history"`
}

// healthCheck handles health check requests
func (api *API) healthCheck(c *gin.Context) {
	resp := response.New(c, api.logger)

	health := HealthStatus{
		Status:  "healthy",
		Machine: api.machine,
		Uptime:  time.Since(api.startedAt).Round(time.Second).String(),
		Cycles:  api.status.Cycles(),
		History: "disabled",
	}

	if last := api.status.Last(); last != nil {
		health.LastCycle = last.FinishedAt
		if last.Error != "" {
			health.Status = "degraded"
			health.LastError = last.Error
		}
	}

	if api.history != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := api.history.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.History = err.Error()
			resp.JSON(http.StatusServiceUnavailable, "unhealthy", health)
			return
		}
		health.History = "ok"
	}

	resp.Success(health)
}

// getStatus returns the latest cycle result
func (api *API) getStatus(c *gin.Context) {
	resp := response.New(c, api.logger)

	last := api.status.Last()
	if last == nil {
		resp.NotFound(errors.New("no cycle has completed yet"))
		return
	}
	resp.Success(last)
}

// getHistory returns recorded changes, newest first
func (api *API) getHistory(c *gin.Context) {
	resp := response.New(c, api.logger)

	if api.history == nil {
		resp.NotFound(errors.New("history is disabled"))
		return
	}

	filter, err := parseHistoryFilter(c)
	if err != nil {
		resp.BadRequest(err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	changes, err := api.history.Recent(ctx, filter)
	if err != nil {
		resp.InternalError(fmt.Errorf("failed to read history: %w", err))
		return
	}
	if changes == nil {
		changes = []*types.IPChange{}
	}

	resp.Success(gin.H{
		"changes": changes,
		"count":   len(changes),
	})
}

// getVersion returns build information
func (api *API) getVersion(c *gin.Context) {
	response.New(c, api.logger).Success(version.GetInfo())
}

// parseHistoryFilter reads machine, since, until and limit query parameters
func parseHistoryFilter(c *gin.Context) (*types.IPChangeFilter, error) {
	filter := &types.IPChangeFilter{
		Machine: c.Query("machine"),
		Limit:   defaultHistoryLimit,
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return nil, fmt.Errorf("invalid limit: %s", v)
		}
		filter.Limit = min(limit, maxHistoryLimit)
	}

	var err error
	if filter.StartTime, err = parseTime(c.Query("since")); err != nil {
		return nil, fmt.Errorf("invalid since: %w", err)
	}
	if filter.EndTime, err = parseTime(c.Query("until")); err != nil {
		return nil, fmt.Errorf("invalid until: %w", err)
	}
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Before(filter.StartTime) {
		return nil, errors.New("until must not be before since")
	}

	return filter, nil
}

// parseTime accepts RFC 3339 timestamps or durations relative to now
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 time or duration, got %q", v)
	}
	return time.Now().Add(-d), nil
}
