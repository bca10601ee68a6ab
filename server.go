package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common/config"
	"github.com/estatepulse/property-crawler-service/common/db"
	"github.com/estatepulse/property-crawler-service/crawler"
	"github.com/estatepulse/property-crawler-service/handler"
	"github.com/estatepulse/property-crawler-service/ingest"
)

type AppHttpServer struct {
	router *chi.Mux
	cfg    config.Config
	server *http.Server

	db           *db.DB
	crawlService *crawler.Service
	analysis     *ingest.AnalysisStore
	deadLetters  *ingest.DeadLetterStore
}

func NewAppHttpServer(cfg config.Config) (*AppHttpServer, error) {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	return &AppHttpServer{
		router: r,
		cfg:    cfg,
	}, nil
}

// SetDB sets the database dependency
func (s *AppHttpServer) SetDB(database *db.DB) {
	s.db = database
	s.analysis = ingest.NewAnalysisStore(database)
	s.deadLetters = ingest.NewDeadLetterStore(database)
}

// SetCrawlService sets the crawl control dependency
func (s *AppHttpServer) SetCrawlService(service *crawler.Service) {
	s.crawlService = service
}

func (s *AppHttpServer) setupRoute() {
	r := s.router

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"property-crawler-service"}`))
	})

	r.Route("/v1", func(r chi.Router) {
		crawlHandler := handler.NewCrawlHandler(s.crawlService)
		analysisHandler := handler.NewAnalysisHandler(s.analysis, s.deadLetters)
		healthHandler := handler.NewHealthHandler(s.db)

		r.Mount("/crawl", crawlHandler.Router())
		r.Mount("/analysis", analysisHandler.Router())
		r.Mount("/health", healthHandler.Router())
	})
}

func (s *AppHttpServer) start() error {
	log.Info().Msg("Starting up server...")

	s.server = &http.Server{
		Addr:         s.cfg.Listen.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stop gracefully shuts down the server
func (s *AppHttpServer) stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
