// Package api exposes the sighting-alert pipeline over HTTP: beep
// ingestion, media upload, sighting reads, witness confirmation, device
// registration, engagement tracking, aircraft match and a websocket
// stream of new sightings.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/skybeep/skybeep/internal/core"
	"github.com/skybeep/skybeep/internal/media"
	"github.com/skybeep/skybeep/internal/metrics"
	"github.com/skybeep/skybeep/internal/ratelimit"
	"github.com/skybeep/skybeep/internal/store"
	"github.com/skybeep/skybeep/internal/witness"
	"github.com/skybeep/skybeep/pkg/config"
	"github.com/skybeep/skybeep/pkg/geo"
)

// Server is the HTTP surface over the core.
type Server struct {
	router  *chi.Mux
	core    *core.Core
	media   media.Storage
	metrics *metrics.Metrics
	cfg     *config.Config
	log     *logrus.Entry
}

// NewServer builds the server and its routes. mediaStore and mets may
// be nil; the matching routes then report unavailability.
func NewServer(cfg *config.Config, c *core.Core, mediaStore media.Storage, mets *metrics.Metrics, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		router:  chi.NewRouter(),
		core:    c,
		media:   mediaStore,
		metrics: mets,
		cfg:     cfg,
		log:     log,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeoutSeconds) * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/beep", s.handleIngest)

		r.Get("/sightings", s.handleListSightings)
		r.Get("/sightings/{id}", s.handleGetSighting)
		r.Post("/sightings/{id}/media", s.handleMediaUpload)

		r.Get("/sightings/{id}/witness/status", s.handleWitnessStatus)
		r.Post("/sightings/{id}/witness", s.handleWitnessConfirm)

		r.Post("/devices", s.handleRegisterDevice)
		r.Post("/engagement", s.handleEngagement)

		r.Post("/aircraft/match", s.handleAircraftMatch)

		r.Get("/ws", s.handleStream)
	})

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError maps the error taxonomy onto HTTP statuses with a
// human-readable reason.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var limited *ratelimit.LimitedError
	var windowClosed *witness.WindowClosedError
	var outOfRange *witness.OutOfRangeError
	var input *geo.InputError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateWitness):
		status = http.StatusConflict
	case errors.As(err, &limited):
		status = http.StatusTooManyRequests
	case errors.As(err, &windowClosed):
		status = http.StatusGone
	case errors.As(err, &outOfRange):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &input):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("Request failed")
		respondJSON(w, status, map[string]interface{}{"error": "internal error"})
		return
	}
	respondJSON(w, status, map[string]interface{}{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{"error": msg})
}
