package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/estatepulse/property-crawler-service/common/db"
	"github.com/estatepulse/property-crawler-service/common/utils"
)

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	db *db.DB
}

func NewHealthHandler(database *db.DB) *HealthHandler {
	return &HealthHandler{db: database}
}

// Router returns the routes for health checks.
func (h *HealthHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.check)
	return r
}

type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (h *HealthHandler) check(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{Status: "healthy", Database: "up"}

	if err := h.db.Ping(r.Context()); err != nil {
		status.Status = "degraded"
		status.Database = "down"
		utils.WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	utils.WriteJSON(w, http.StatusOK, status)
}
