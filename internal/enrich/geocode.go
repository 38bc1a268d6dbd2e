package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/skybeep/skybeep/pkg/config"
)

// geocodeCacheTTL: place names do not move.
const geocodeCacheTTL = time.Hour

// GeocodeProcessor reverse-geocodes the sighting position into a human
// location name.
type GeocodeProcessor struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	cache      *ttlCache[map[string]any]
}

// NewGeocodeProcessor builds the processor from provider config.
func NewGeocodeProcessor(cfg config.ProviderConfig, timeoutSeconds int) *GeocodeProcessor {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 8
	}
	return &GeocodeProcessor{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    time.Duration(timeoutSeconds) * time.Second,
		httpClient: &http.Client{},
		cache:      newTTLCache[map[string]any](geocodeCacheTTL),
	}
}

func (p *GeocodeProcessor) Name() string           { return "geocoding" }
func (p *GeocodeProcessor) Priority() int          { return 1 }
func (p *GeocodeProcessor) Timeout() time.Duration { return p.timeout }

func (p *GeocodeProcessor) IsAvailable() bool {
	return p.apiKey != "" && p.baseURL != ""
}

type reverseGeocodeEntry struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Country string `json:"country"` // ISO 3166 code
}

func (p *GeocodeProcessor) Process(ctx context.Context, ec Context) Result {
	key := locationKey(ec.Latitude, ec.Longitude)
	if data, ok := p.cache.get(key); ok {
		return okResult(data, 0.9)
	}

	u := fmt.Sprintf("%s/geo/1.0/reverse?lat=%.4f&lon=%.4f&limit=1&appid=%s",
		p.baseURL, ec.Latitude, ec.Longitude, p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return failResult(err.Error())
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return failResult(fmt.Sprintf("geocoding request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failResult(fmt.Sprintf("geocoding upstream status %d", resp.StatusCode))
	}

	var entries []reverseGeocodeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return failResult(fmt.Sprintf("geocoding decode failed: %v", err))
	}

	data := assembleLocation(entries)
	p.cache.put(key, data)
	return okResult(data, 0.9)
}

// assembleLocation builds the location payload. US results read
// "City, State"; elsewhere "City, Country"; degrades through country
// alone down to "Unknown Location".
func assembleLocation(entries []reverseGeocodeEntry) map[string]any {
	data := map[string]any{
		"location_name":     "Unknown Location",
		"country":           "",
		"formatted_address": "Unknown Location",
	}
	if len(entries) == 0 {
		return data
	}
	e := entries[0]

	countryName := countryDisplayName(e.Country)
	var name string
	switch {
	case e.Name != "" && e.Country == "US" && e.State != "":
		name = e.Name + ", " + e.State
	case e.Name != "" && countryName != "":
		name = e.Name + ", " + countryName
	case countryName != "":
		name = countryName
	default:
		name = "Unknown Location"
	}

	data["location_name"] = name
	data["country"] = countryName
	data["formatted_address"] = name
	if e.Name != "" {
		data["city"] = e.Name
	}
	if e.State != "" {
		data["state"] = e.State
	}
	if e.Country != "" {
		data["country_code"] = e.Country
	}
	return data
}

// countryDisplayName expands the codes that show up constantly; the rest
// keep their ISO code, which clients render as-is.
func countryDisplayName(code string) string {
	switch code {
	case "":
		return ""
	case "US":
		return "United States"
	case "CA":
		return "Canada"
	case "GB":
		return "United Kingdom"
	case "AU":
		return "Australia"
	case "MX":
		return "Mexico"
	case "DE":
		return "Germany"
	case "FR":
		return "France"
	case "BR":
		return "Brazil"
	case "JP":
		return "Japan"
	default:
		return code
	}
}
