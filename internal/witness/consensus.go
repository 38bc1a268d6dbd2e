package witness

import (
	"math"
	"time"

	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/geo"
)

// Quality buckets the consensus confidence for display.
const (
	QualityExcellent    = "excellent"
	QualityGood         = "good"
	QualityPoor         = "poor"
	QualityInsufficient = "insufficient"
)

// Report is the aggregation summary of one sighting's confirmations.
type Report struct {
	WitnessCount int `json:"witness_count"`

	TemporalScore float64 `json:"temporal_score"`
	SpatialScore  float64 `json:"spatial_score"`
	BearingScore  float64 `json:"bearing_score"`
	Confidence    float64 `json:"confidence"`

	Quality             string  `json:"quality"`
	AgreementPercentage float64 `json:"agreement_percentage"`

	Triangulated     *Point   `json:"triangulated_position,omitempty"`
	EstimatedRadiusM *float64 `json:"estimated_radius_m,omitempty"`

	ShouldEscalate bool `json:"should_escalate"`
}

// points extracts the located confirmations as triangulation input.
func points(confirmations []beep.WitnessConfirmation) []WitnessPoint {
	var out []WitnessPoint
	for _, c := range confirmations {
		if c.Latitude == nil || c.Longitude == nil {
			continue
		}
		out = append(out, WitnessPoint{
			Lat:        *c.Latitude,
			Lon:        *c.Longitude,
			BearingDeg: c.BearingDeg,
			Timestamp:  c.ConfirmedAt,
		})
	}
	return out
}

// Consensus computes the aggregation report for a sighting's accepted
// confirmations. now anchors the recency window of the escalation rule.
func Consensus(confirmations []beep.WitnessConfirmation, now time.Time) Report {
	report := Report{WitnessCount: len(confirmations)}
	if len(confirmations) == 0 {
		report.Quality = QualityInsufficient
		return report
	}

	pts := points(confirmations)
	report.Triangulated = Triangulate(pts)

	report.TemporalScore = temporalScore(confirmations)
	report.SpatialScore = spatialScore(pts)
	report.BearingScore = bearingScore(pts, report.Triangulated)
	report.Confidence = 0.3*report.TemporalScore + 0.3*report.SpatialScore + 0.4*report.BearingScore
	report.AgreementPercentage = report.Confidence * 100
	report.Quality = quality(report.Confidence)

	if report.Triangulated != nil {
		radius := math.Max(100, (1-report.Confidence)*5000)
		report.EstimatedRadiusM = &radius
	}

	report.ShouldEscalate = shouldEscalate(confirmations, report.Confidence, now)
	return report
}

// temporalScore rewards confirmations clustered in time: 1 when
// simultaneous, falling to 0 across an hour of spread.
func temporalScore(confirmations []beep.WitnessConfirmation) float64 {
	earliest := confirmations[0].ConfirmedAt
	latest := confirmations[0].ConfirmedAt
	for _, c := range confirmations[1:] {
		if c.ConfirmedAt.Before(earliest) {
			earliest = c.ConfirmedAt
		}
		if c.ConfirmedAt.After(latest) {
			latest = c.ConfirmedAt
		}
	}
	spread := latest.Sub(earliest).Seconds()
	return math.Max(0, 1-spread/3600)
}

// spatialScore scales with the widest witness baseline: spread-out
// witnesses constrain the triangulation better than a single cluster.
// Saturates at a 1 km baseline.
func spatialScore(pts []WitnessPoint) float64 {
	maxM := 0.0
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			d := geo.DistanceKm(pts[i].Lat, pts[i].Lon, pts[j].Lat, pts[j].Lon) * 1000
			if d > maxM {
				maxM = d
			}
		}
	}
	return math.Min(1, maxM/1000)
}

// bearingScore measures how well each reported bearing points at the
// triangulated position. Without a triangulation there is nothing to
// check against, so it sits at the neutral 0.5.
func bearingScore(pts []WitnessPoint, estimate *Point) float64 {
	if estimate == nil {
		return 0.5
	}

	total := 0.0
	n := 0
	for _, p := range pts {
		if p.BearingDeg == nil {
			continue
		}
		actual := geo.BearingDeg(p.Lat, p.Lon, estimate.Lat, estimate.Lon)
		diff := math.Abs(*p.BearingDeg - actual)
		if diff > 180 {
			diff = 360 - diff
		}
		total += diff
		n++
	}
	if n == 0 {
		return 0.5
	}
	return math.Max(0, 1-(total/float64(n))/45)
}

func quality(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return QualityExcellent
	case confidence >= 0.6:
		return QualityGood
	case confidence >= 0.3:
		return QualityPoor
	default:
		return QualityInsufficient
	}
}

// shouldEscalate applies the escalation rules: a fast burst with decent
// agreement, sheer witness mass, or a smaller group with very high
// agreement.
func shouldEscalate(confirmations []beep.WitnessConfirmation, confidence float64, now time.Time) bool {
	total := len(confirmations)

	recent := 0
	cutoff := now.Add(-60 * time.Second)
	for _, c := range confirmations {
		if !c.ConfirmedAt.Before(cutoff) {
			recent++
		}
	}

	switch {
	case recent >= 3 && confidence >= 0.6:
		return true
	case total >= 5:
		return true
	case total >= 3 && confidence >= 0.8:
		return true
	}
	return false
}
