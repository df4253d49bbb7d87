package handler

import (
	"context"
	"net/http"

	"github.com/orgsyncd/orgsyncd/internal/api/middleware"
	"github.com/orgsyncd/orgsyncd/internal/api/response"
)

// DBPinger checks database connectivity.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	dbPinger DBPinger
	version  string
}

// NewHealthHandler creates a health handler. dbPinger may be nil when
// no database is configured.
func NewHealthHandler(dbPinger DBPinger, version string) *HealthHandler {
	return &HealthHandler{dbPinger: dbPinger, version: version}
}

type healthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	status := healthStatus{Status: "ok", Version: h.version}
	code := http.StatusOK
	if h.dbPinger != nil {
		if err := h.dbPinger.Ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Database = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			status.Database = "ok"
		}
	}
	response.Success(w, code, status, requestID)
}
