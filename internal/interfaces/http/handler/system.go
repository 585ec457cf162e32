package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// ClientCounter reports connected realtime clients
type ClientCounter interface {
	ClientCount() int
}

// SystemHandler serves health and build information
type SystemHandler struct {
	BaseHandler
	name      string
	version   string
	clients   ClientCounter
	startTime time.Time
}

// NewSystemHandler creates a new SystemHandler. clients may be nil.
func NewSystemHandler(name, version string, clients ClientCounter) *SystemHandler {
	return &SystemHandler{
		name:      name,
		version:   version,
		clients:   clients,
		startTime: time.Now(),
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status          string `json:"status"`
	Uptime          string `json:"uptime"`
	RealtimeClients int    `json:"realtime_clients"`
}

// SystemInfoResponse represents the system information response
type SystemInfoResponse struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
}

// Health handles GET /health. It does not call upstream; a display that can
// reach it can reach the process.
func (h *SystemHandler) Health(c *gin.Context) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: h.uptime(),
	}
	if h.clients != nil {
		resp.RealtimeClients = h.clients.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

// GetSystemInfo handles GET /api/system/info
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	h.Success(c, SystemInfoResponse{
		Name:      h.name,
		Version:   h.version,
		GoVersion: runtime.Version(),
		Uptime:    h.uptime(),
	})
}

func (h *SystemHandler) uptime() string {
	return time.Since(h.startTime).Round(time.Second).String()
}
