package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common"
	"github.com/estatepulse/property-crawler-service/common/messaging"
	"github.com/estatepulse/property-crawler-service/common/utils"
	"github.com/estatepulse/property-crawler-service/crawler"
)

// CrawlHandler exposes crawl session control.
type CrawlHandler struct {
	service  *crawler.Service
	validate *validator.Validate
}

func NewCrawlHandler(service *crawler.Service) *CrawlHandler {
	return &CrawlHandler{
		service:  service,
		validate: validator.New(),
	}
}

// Router returns the routes for crawl operations.
func (h *CrawlHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.trigger)
	r.Get("/sources", h.sources)
	return r
}

type triggerRequest struct {
	Source   string `json:"source" validate:"required"`
	StartURL string `json:"start_url" validate:"omitempty,url"`
}

type triggerResponse struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Status string `json:"status"`
}

func (h *CrawlHandler) trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	crawlReq := messaging.CrawlRequest{
		ID:       uuid.NewString(),
		Source:   req.Source,
		StartURL: req.StartURL,
	}

	if err := h.service.Trigger(r.Context(), crawlReq); err != nil {
		if errors.Is(err, common.ErrUnsupportedSource) {
			utils.WriteError(w, http.StatusNotFound, "unknown source: "+req.Source)
			return
		}
		log.Error().Err(err).Str("source", req.Source).Msg("Failed to trigger crawl")
		utils.WriteError(w, http.StatusInternalServerError, "failed to trigger crawl")
		return
	}

	utils.WriteJSON(w, http.StatusAccepted, triggerResponse{
		ID:     crawlReq.ID,
		Source: crawlReq.Source,
		Status: "accepted",
	})
}

func (h *CrawlHandler) sources(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, h.service.Sources())
}
