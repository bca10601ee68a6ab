package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common/utils"
	"github.com/estatepulse/property-crawler-service/ingest"
)

// AnalysisHandler serves read-only aggregates over stored properties.
type AnalysisHandler struct {
	analysis    *ingest.AnalysisStore
	deadLetters *ingest.DeadLetterStore
}

func NewAnalysisHandler(analysis *ingest.AnalysisStore, deadLetters *ingest.DeadLetterStore) *AnalysisHandler {
	return &AnalysisHandler{
		analysis:    analysis,
		deadLetters: deadLetters,
	}
}

// Router returns the routes for analysis queries.
func (h *AnalysisHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/regions", h.regionCounts)
	r.Get("/prices", h.priceStats)
	r.Get("/properties/{externalID}", h.property)
	r.Get("/deadletters", h.listDeadLetters)
	return r
}

func (h *AnalysisHandler) regionCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.analysis.RegionCounts(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Region counts query failed")
		utils.WriteError(w, http.StatusInternalServerError, "query failed")
		return
	}
	utils.WriteJSON(w, http.StatusOK, counts)
}

func (h *AnalysisHandler) priceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.analysis.PriceStats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Price stats query failed")
		utils.WriteError(w, http.StatusInternalServerError, "query failed")
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

func (h *AnalysisHandler) property(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	if externalID == "" {
		utils.WriteError(w, http.StatusBadRequest, "external id required")
		return
	}

	rec, found, err := h.analysis.PropertyByID(r.Context(), externalID)
	if err != nil {
		log.Error().Err(err).Str("externalID", externalID).Msg("Property lookup failed")
		utils.WriteError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !found {
		utils.WriteError(w, http.StatusNotFound, "property not found")
		return
	}
	utils.WriteJSON(w, http.StatusOK, rec)
}

func (h *AnalysisHandler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := h.deadLetters.List(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Dead letter listing failed")
		utils.WriteError(w, http.StatusInternalServerError, "query failed")
		return
	}
	utils.WriteJSON(w, http.StatusOK, letters)
}
