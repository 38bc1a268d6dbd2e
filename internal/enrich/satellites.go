package enrich

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/skybeep/skybeep/pkg/config"
)

// Pass-scan parameters. The window is centred on the sighting timestamp.
const (
	passWindow = 4 * time.Hour
	passStep   = 30 * time.Second
	issName    = "ISS (ZARYA)"
)

// Base magnitude estimates per satellite class. A real photometric model
// needs the sun-satellite-observer geometry; this heuristic is good
// enough to rank "bright ISS pass" against "dim Starlink".
const (
	magnitudeISS      = -2.5
	magnitudeStarlink = 4.8
	magnitudeVisual   = 3.5
)

// tleRecord is one satellite's two-line element set.
type tleRecord struct {
	Name      string
	Line1     string
	Line2     string
	NoradID   string
	Magnitude float64
}

// SatelliteProcessor predicts visible passes of the ISS, the brightest
// Starlink batch and the named visual satellites over the sighting window
// by propagating TLE sets with SGP4.
type SatelliteProcessor struct {
	tleBaseURL  string
	maxStarlink int
	maxVisual   int
	timeout     time.Duration
	httpClient  *http.Client
	tleCache    *ttlCache[[]tleRecord]
}

// NewSatelliteProcessor builds the processor from satellite config.
func NewSatelliteProcessor(cfg config.SatelliteConfig, timeoutSeconds int) *SatelliteProcessor {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 20
	}
	ttlHours := cfg.TLETTLHours
	if ttlHours <= 0 {
		ttlHours = 2
	}
	maxStarlink := cfg.MaxStarlink
	if maxStarlink <= 0 {
		maxStarlink = 20
	}
	maxVisual := cfg.MaxVisual
	if maxVisual <= 0 {
		maxVisual = 10
	}
	return &SatelliteProcessor{
		tleBaseURL:  cfg.TLEBaseURL,
		maxStarlink: maxStarlink,
		maxVisual:   maxVisual,
		timeout:     time.Duration(timeoutSeconds) * time.Second,
		httpClient:  &http.Client{},
		tleCache:    newTTLCache[[]tleRecord](time.Duration(ttlHours) * time.Hour),
	}
}

func (p *SatelliteProcessor) Name() string           { return "satellites" }
func (p *SatelliteProcessor) Priority() int          { return 3 }
func (p *SatelliteProcessor) Timeout() time.Duration { return p.timeout }
func (p *SatelliteProcessor) IsAvailable() bool      { return p.tleBaseURL != "" }

func (p *SatelliteProcessor) Process(ctx context.Context, ec Context) Result {
	records, err := p.candidates(ctx)
	if err != nil {
		return failResult(err.Error())
	}

	var passes []map[string]any
	for _, rec := range records {
		for _, pass := range p.scanPasses(rec, ec.Latitude, ec.Longitude, ec.Timestamp) {
			passes = append(passes, pass)
		}
	}

	data := map[string]any{
		"passes":       passes,
		"pass_count":   len(passes),
		"window_hours": passWindow.Hours(),
	}
	return okResult(data, 0.8)
}

// candidates assembles the TLE sets to scan: ISS, Starlink, visual.
func (p *SatelliteProcessor) candidates(ctx context.Context) ([]tleRecord, error) {
	var out []tleRecord

	stations, err := p.fetchGroup(ctx, "stations", magnitudeISS)
	if err != nil {
		return nil, err
	}
	for _, rec := range stations {
		if rec.Name == issName {
			out = append(out, rec)
			break
		}
	}

	starlink, err := p.fetchGroup(ctx, "starlink", magnitudeStarlink)
	if err != nil {
		return nil, err
	}
	if len(starlink) > p.maxStarlink {
		starlink = starlink[:p.maxStarlink]
	}
	out = append(out, starlink...)

	visual, err := p.fetchGroup(ctx, "visual", magnitudeVisual)
	if err != nil {
		return nil, err
	}
	if len(visual) > p.maxVisual {
		visual = visual[:p.maxVisual]
	}
	out = append(out, visual...)

	return out, nil
}

// fetchGroup downloads and parses one CelesTrak TLE group, cached per
// group for the configured TTL.
func (p *SatelliteProcessor) fetchGroup(ctx context.Context, group string, magnitude float64) ([]tleRecord, error) {
	if cached, ok := p.tleCache.get(group); ok {
		return cached, nil
	}

	u := fmt.Sprintf("%s?GROUP=%s&FORMAT=tle", p.tleBaseURL, group)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TLE fetch for %s failed: %w", group, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TLE upstream status %d for %s", resp.StatusCode, group)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("TLE read for %s failed: %w", group, err)
	}

	records := parseTLE(string(body), magnitude)
	p.tleCache.put(group, records)
	return records, nil
}

// parseTLE splits a TLE group file into records. Each record is a name
// line followed by the two element lines.
func parseTLE(body string, magnitude float64) []tleRecord {
	var records []tleRecord
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		name := strings.TrimSpace(lines[i])
		if name == "" || strings.HasPrefix(name, "1 ") || strings.HasPrefix(name, "2 ") {
			continue
		}
		if i+2 >= len(lines) {
			break
		}
		l1 := strings.TrimSpace(lines[i+1])
		l2 := strings.TrimSpace(lines[i+2])
		if !strings.HasPrefix(l1, "1 ") || !strings.HasPrefix(l2, "2 ") {
			continue
		}

		rec := tleRecord{Name: name, Line1: l1, Line2: l2, Magnitude: magnitude}
		if len(l1) >= 7 {
			rec.NoradID = strings.TrimSpace(l1[2:7])
		}
		records = append(records, rec)
		i += 2
	}
	return records
}

// scanPasses propagates one satellite across the window and extracts the
// intervals where it clears the horizon.
func (p *SatelliteProcessor) scanPasses(rec tleRecord, lat, lon float64, center time.Time) []map[string]any {
	sat := satellite.TLEToSat(rec.Line1, rec.Line2, satellite.GravityWGS84)
	obs := satellite.LatLong{
		Latitude:  lat * math.Pi / 180,
		Longitude: lon * math.Pi / 180,
	}

	start := center.Add(-passWindow / 2).UTC()
	end := center.Add(passWindow / 2).UTC()

	var passes []map[string]any
	var inPass bool
	var passStart, maxElTime time.Time
	var maxEl, startAz, lastAz float64

	for t := start; !t.After(end); t = t.Add(passStep) {
		az, el := lookAngles(sat, obs, t)

		if el > 0 {
			if !inPass {
				inPass = true
				passStart = t
				maxEl = el
				maxElTime = t
				startAz = az
			} else if el > maxEl {
				maxEl = el
				maxElTime = t
			}
			lastAz = az
			continue
		}

		if inPass {
			passes = append(passes, p.passRecord(rec, passStart, t, maxEl, maxElTime, startAz, lastAz))
			inPass = false
		}
	}
	if inPass {
		passes = append(passes, p.passRecord(rec, passStart, end, maxEl, maxElTime, startAz, lastAz))
	}
	return passes
}

func (p *SatelliteProcessor) passRecord(rec tleRecord, start, end time.Time, maxEl float64, maxElTime time.Time, startAz, endAz float64) map[string]any {
	// Dimmer toward the horizon; the offset is a crude airmass stand-in.
	magnitude := rec.Magnitude + (1-maxEl/90)*1.5

	return map[string]any{
		"satellite_name":         rec.Name,
		"norad_id":               rec.NoradID,
		"pass_start_utc":         start.Format(time.RFC3339),
		"pass_end_utc":           end.Format(time.RFC3339),
		"max_elevation_deg":      maxEl,
		"max_elevation_time_utc": maxElTime.Format(time.RFC3339),
		"brightness_magnitude":   magnitude,
		"direction":              fmt.Sprintf("%s to %s", compassPoint(startAz), compassPoint(endAz)),
		"is_visible_pass":        maxEl > 10 && magnitude < 6,
	}
}

// lookAngles returns azimuth and elevation in degrees at one instant.
// ECIToLookAngles wants a Julian date, not a GMST; it derives the
// rotation itself.
func lookAngles(sat satellite.Satellite, obs satellite.LatLong, t time.Time) (az, el float64) {
	t = t.UTC()
	pos, _ := satellite.Propagate(sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	jday := satellite.JDay(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	angles := satellite.ECIToLookAngles(pos, obs, 0, jday)
	return angles.Az * 180 / math.Pi, angles.El * 180 / math.Pi
}

// compassPoint buckets an azimuth into the eight principal directions.
func compassPoint(azDeg float64) string {
	points := []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}
	idx := int(math.Mod(azDeg+22.5, 360) / 45)
	return points[idx]
}
