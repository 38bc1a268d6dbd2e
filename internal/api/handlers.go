package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skybeep/skybeep/internal/core"
	"github.com/skybeep/skybeep/internal/planematch"
	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/geo"
)

// ingestRequest is a beep submission.
type ingestRequest struct {
	DeviceID string `json:"device_id"`
	Location *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Accuracy  *float64 `json:"accuracy"`
		Altitude  *float64 `json:"altitude"`
	} `json:"location"`
	AzimuthDeg  *float64 `json:"azimuth_deg"`
	PitchDeg    *float64 `json:"pitch_deg"`
	RollDeg     *float64 `json:"roll_deg"`
	HFOVDeg     *float64 `json:"hfov_deg"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	HasMedia    bool     `json:"has_media"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		badRequest(w, "device_id is required")
		return
	}
	if req.Location == nil || req.Location.Latitude == nil || req.Location.Longitude == nil {
		badRequest(w, "location latitude and longitude are required")
		return
	}
	if err := geo.ValidateLatLon(*req.Location.Latitude, *req.Location.Longitude); err != nil {
		s.respondError(w, err)
		return
	}

	sighting, fanout, err := s.core.Ingest(r.Context(), core.IngestInput{
		DeviceID:    req.DeviceID,
		Latitude:    *req.Location.Latitude,
		Longitude:   *req.Location.Longitude,
		AccuracyM:   req.Location.Accuracy,
		AltitudeM:   req.Location.Altitude,
		AzimuthDeg:  req.AzimuthDeg,
		PitchDeg:    req.PitchDeg,
		RollDeg:     req.RollDeg,
		HFOVDeg:     req.HFOVDeg,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		HasMedia:    req.HasMedia,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}

	rings := s.cfg.Fanout.RingsKm
	outerRadius := 25.0
	if len(rings) > 0 {
		outerRadius = rings[len(rings)-1]
	}

	totalAlerted := 0
	alertMessage := "alerts deferred until media upload completes"
	var proximity interface{}
	if fanout != nil {
		totalAlerted = fanout.TotalSent
		proximity = fanout
		switch {
		case fanout.Suppressed:
			alertMessage = "alerts suppressed by the global rate cap"
		case fanout.TotalSent == 0:
			alertMessage = "no nearby devices found"
		default:
			alertMessage = "nearby devices alerted"
		}
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"sighting_id":   sighting.ID,
		"message":       "Beep received",
		"alert_message": alertMessage,
		"alert_stats": map[string]interface{}{
			"total_alerted": totalAlerted,
			"radius_km":     outerRadius,
		},
		"witness_count":     sighting.WitnessCount,
		"location_jittered": true,
		"proximity_alerts":  proximity,
	})
}

func (s *Server) handleMediaUpload(w http.ResponseWriter, r *http.Request) {
	sightingID := chi.URLParam(r, "id")
	if s.media == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": "media storage not configured",
		})
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "invalid multipart body")
		return
	}
	files := r.MultipartForm.File["media"]
	if len(files) == 0 {
		badRequest(w, "media file is required")
		return
	}

	stored := make([]beep.MediaFile, 0, len(files))
	for _, header := range files {
		file, err := s.media.Save(sightingID, header)
		if err != nil {
			s.respondError(w, err)
			return
		}
		if err := s.core.AttachMedia(r.Context(), sightingID, *file); err != nil {
			s.respondError(w, err)
			return
		}
		stored = append(stored, *file)
	}

	// Media completion releases the fan-out deferred at ingestion.
	fanout, err := s.core.CompleteMediaUpload(r.Context(), sightingID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"files":            stored,
		"count":            len(stored),
		"proximity_alerts": fanout,
	})
}

func (s *Server) handleListSightings(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	sightings, err := s.core.ListSightings(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": sightings,
		"total":  len(sightings),
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetSighting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sighting, err := s.core.GetSighting(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	summary, err := s.core.WitnessSummary(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sighting":        sighting,
		"witness_summary": summary,
	})
}

func (s *Server) handleWitnessStatus(w http.ResponseWriter, r *http.Request) {
	sightingID := chi.URLParam(r, "id")
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		badRequest(w, "device_id is required")
		return
	}

	confirmed, at, err := s.core.WitnessStatus(r.Context(), sightingID, deviceID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	resp := map[string]interface{}{
		"has_confirmed": confirmed,
		"device_id":     deviceID,
		"sighting_id":   sightingID,
	}
	if at != nil {
		resp["confirmed_at"] = at.UTC().Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, resp)
}

// witnessRequest is a confirmation submission.
type witnessRequest struct {
	DeviceID     string   `json:"device_id"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Altitude     *float64 `json:"altitude"`
	Accuracy     *float64 `json:"accuracy"`
	BearingDeg   *float64 `json:"bearing_deg"`
	StillVisible *bool    `json:"still_visible"`
	Description  string   `json:"description"`
	Confidence   string   `json:"confidence"`
	Platform     string   `json:"platform"`
	AppVersion   string   `json:"app_version"`
}

func (s *Server) handleWitnessConfirm(w http.ResponseWriter, r *http.Request) {
	sightingID := chi.URLParam(r, "id")

	var req witnessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		badRequest(w, "device_id is required")
		return
	}

	confidence := beep.WitnessConfidence(req.Confidence)
	if confidence == "" {
		confidence = beep.ConfidenceMedium
	}

	conf := &beep.WitnessConfirmation{
		DeviceID:     req.DeviceID,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		AltitudeM:    req.Altitude,
		AccuracyM:    req.Accuracy,
		BearingDeg:   req.BearingDeg,
		StillVisible: req.StillVisible == nil || *req.StillVisible,
		Confidence:   confidence,
		Description:  req.Description,
		Platform:     req.Platform,
		AppVersion:   req.AppVersion,
	}

	count, _, err := s.core.ConfirmWitness(r.Context(), sightingID, conf)
	if err != nil {
		s.respondError(w, err)
		return
	}

	sighting, err := s.core.GetSighting(r.Context(), sightingID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	age := time.Since(sighting.CreatedAt).Minutes()

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"confirmed":            true,
		"new_witness_count":    count,
		"total_confirmations":  count - 1,
		"confirmation_time":    conf.ConfirmedAt.UTC().Format(time.RFC3339),
		"sighting_age_minutes": int(age),
	})
}

// deviceRequest registers or refreshes a device.
type deviceRequest struct {
	DeviceID           string   `json:"device_id"`
	Platform           string   `json:"platform"`
	PushToken          *string  `json:"push_token"`
	PushProvider       string   `json:"push_provider"`
	PushEnabled        *bool    `json:"push_enabled"`
	AlertNotifications *bool    `json:"alert_notifications"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		badRequest(w, "device_id is required")
		return
	}

	device := &beep.Device{
		DeviceID:           req.DeviceID,
		Platform:           beep.Platform(req.Platform),
		PushToken:          req.PushToken,
		PushProvider:       beep.PushProvider(req.PushProvider),
		PushEnabled:        req.PushEnabled == nil || *req.PushEnabled,
		AlertNotifications: req.AlertNotifications == nil || *req.AlertNotifications,
		IsActive:           true,
		Lat:                req.Latitude,
		Lon:                req.Longitude,
	}
	if device.PushProvider == "" {
		device.PushProvider = beep.ProviderFCM
	}

	if err := s.core.RegisterDevice(r.Context(), device); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"registered": true,
		"device_id":  device.DeviceID,
	})
}

// engagementRequest records a device interaction.
type engagementRequest struct {
	DeviceID   string  `json:"device_id"`
	SightingID *string `json:"sighting_id"`
	EventType  string  `json:"event_type"`
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	var req engagementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.DeviceID == "" || req.EventType == "" {
		badRequest(w, "device_id and event_type are required")
		return
	}

	err := s.core.RecordEngagement(r.Context(), &beep.EngagementEvent{
		DeviceID:   req.DeviceID,
		SightingID: req.SightingID,
		EventType:  beep.EngagementType(req.EventType),
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"recorded": true})
}

// aircraftMatchRequest is an on-demand sensor pose query.
type aircraftMatchRequest struct {
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Altitude   *float64 `json:"altitude"`
	AzimuthDeg float64  `json:"azimuth_deg"`
	PitchDeg   float64  `json:"pitch_deg"`
	RollDeg    *float64 `json:"roll_deg"`
	HFOVDeg    *float64 `json:"hfov_deg"`
	Timestamp  *string  `json:"timestamp"`
}

func (s *Server) handleAircraftMatch(w http.ResponseWriter, r *http.Request) {
	var req aircraftMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		parsed, err := time.Parse(time.RFC3339, *req.Timestamp)
		if err != nil {
			badRequest(w, "timestamp must be RFC 3339")
			return
		}
		ts = parsed
	}

	result, err := s.core.MatchAircraft(r.Context(), planematch.Sensor{
		Timestamp:  ts,
		Lat:        req.Latitude,
		Lon:        req.Longitude,
		AltitudeM:  req.Altitude,
		AzimuthDeg: req.AzimuthDeg,
		PitchDeg:   req.PitchDeg,
		RollDeg:    req.RollDeg,
		HFOVDeg:    req.HFOVDeg,
	})
	if err != nil {
		if errors.Is(err, core.ErrNoAnalyzer) {
			respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
