package enrich

import (
	"context"
	"encoding/json"
	"time"

	"github.com/skybeep/skybeep/internal/planematch"
)

// AircraftProcessor wraps the aircraft-match analyser as an enrichment
// step. It runs whenever the sensor pose carries a pointing direction;
// otherwise it records not_applicable so clients can tell it was
// considered.
type AircraftProcessor struct {
	analyzer *planematch.Analyzer
	timeout  time.Duration
}

// NewAircraftProcessor builds the processor around an analyser.
func NewAircraftProcessor(analyzer *planematch.Analyzer, timeoutSeconds int) *AircraftProcessor {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}
	return &AircraftProcessor{
		analyzer: analyzer,
		timeout:  time.Duration(timeoutSeconds) * time.Second,
	}
}

func (p *AircraftProcessor) Name() string           { return "plane_match" }
func (p *AircraftProcessor) Priority() int          { return 3 }
func (p *AircraftProcessor) Timeout() time.Duration { return p.timeout }
func (p *AircraftProcessor) IsAvailable() bool      { return p.analyzer != nil }

func (p *AircraftProcessor) Process(ctx context.Context, ec Context) Result {
	if ec.AzimuthDeg == nil || ec.PitchDeg == nil {
		return okResult(map[string]any{
			"is_plane": false,
			"verdict":  "not_applicable",
			"reason":   "sensor pose missing",
		}, 0)
	}

	result, err := p.analyzer.Match(ctx, planematch.Sensor{
		Timestamp:  ec.Timestamp,
		Lat:        ec.Latitude,
		Lon:        ec.Longitude,
		AltitudeM:  ec.AltitudeM,
		AzimuthDeg: *ec.AzimuthDeg,
		PitchDeg:   *ec.PitchDeg,
		RollDeg:    ec.RollDeg,
	})
	if err != nil {
		return failResult(err.Error())
	}

	data := map[string]any{
		"is_plane":  result.IsPlane,
		"reason":    result.Reason,
		"timestamp": result.Timestamp.Format(time.RFC3339),
	}
	if result.Matched != nil {
		// Round-trip through JSON to keep the persisted shape identical
		// to the on-demand match endpoint.
		var matched map[string]any
		raw, _ := json.Marshal(result.Matched)
		_ = json.Unmarshal(raw, &matched)
		data["matched"] = matched
	}

	return okResult(data, result.Confidence)
}
