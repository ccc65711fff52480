package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ledgerline/backend/internal/infrastructure/persistence"
	"github.com/ledgerline/backend/internal/infrastructure/persistence/rls"
	"github.com/ledgerline/backend/internal/infrastructure/startup"
	"github.com/ledgerline/backend/internal/interfaces/http/dto"
)

// SystemHandler handles system-related API endpoints
type SystemHandler struct {
	BaseHandler
	startTime time.Time
	db        *persistence.Database
	rlsEngine *rls.Engine
	state     func() startup.State
}

// NewSystemHandler creates a new SystemHandler. db and rlsEngine may be nil
// in relaxed development setups; the endpoints degrade accordingly.
func NewSystemHandler(db *persistence.Database, rlsEngine *rls.Engine, state func() startup.State) *SystemHandler {
	return &SystemHandler{
		startTime: time.Now(),
		db:        db,
		rlsEngine: rlsEngine,
		state:     state,
	}
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	State     string `json:"state,omitempty"`
}

// GetSystemInfo returns basic build and uptime details
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	info := SystemInfoResponse{
		Name:      "Ledgerline Backend API",
		Version:   "1.0.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.state != nil {
		info.State = string(h.state())
	}

	h.Success(c, info)
}

// PingResponse represents the ping response
type PingResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Ping checks that the API is responsive
func (h *SystemHandler) Ping(c *gin.Context) {
	h.Success(c, PingResponse{
		Message:   "pong",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// Health reports liveness including database connectivity
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(dto.ErrCodeServiceUnavailable, "database unreachable"))
			return
		}
		resp.Database = "up"
	}

	h.Success(c, resp)
}

// Ready reports whether startup validation reached the ready state
func (h *SystemHandler) Ready(c *gin.Context) {
	if h.state == nil {
		h.Success(c, gin.H{"state": string(startup.StateReady)})
		return
	}
	state := h.state()
	if state != startup.StateReady {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(dto.ErrCodeServiceUnavailable, "service not ready: "+string(state)))
		return
	}

	h.Success(c, gin.H{"state": string(state)})
}

// IsolationTableResponse describes the row security posture of one table
type IsolationTableResponse struct {
	Table      string   `json:"table"`
	RLSEnabled bool     `json:"rls_enabled"`
	RLSForced  bool     `json:"rls_forced"`
	Policies   []string `json:"policies"`
	Healthy    bool     `json:"healthy"`
}

// IsolationReportResponse aggregates the posture of every scoped table
type IsolationReportResponse struct {
	Healthy bool                     `json:"healthy"`
	Tables  []IsolationTableResponse `json:"tables"`
}

// IsolationReport returns the row security audit for all scoped tables.
// Registered behind the admin role; operators use it to verify that no
// table lost its policies after a migration.
func (h *SystemHandler) IsolationReport(c *gin.Context) {
	if h.rlsEngine == nil {
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeServiceUnavailable, "row security engine not configured")
		return
	}

	statuses, err := h.rlsEngine.Report(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := IsolationReportResponse{Healthy: true, Tables: make([]IsolationTableResponse, 0, len(statuses))}
	for _, s := range statuses {
		healthy := s.Healthy()
		if !healthy {
			resp.Healthy = false
		}
		resp.Tables = append(resp.Tables, IsolationTableResponse{
			Table:      s.Table,
			RLSEnabled: s.RLSEnabled,
			RLSForced:  s.RLSForced,
			Policies:   s.Policies,
			Healthy:    healthy,
		})
	}

	h.Success(c, resp)
}
