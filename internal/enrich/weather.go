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

// weatherCacheTTL keeps conditions fresh enough for visibility checks.
const weatherCacheTTL = 10 * time.Minute

// WeatherProcessor fetches current conditions from an OpenWeather-style
// current-weather endpoint. Priority 1: the witness distance guard wants
// visibility as early as possible.
type WeatherProcessor struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	cache      *ttlCache[map[string]any]
}

// NewWeatherProcessor builds the processor from provider config.
func NewWeatherProcessor(cfg config.ProviderConfig, timeoutSeconds int) *WeatherProcessor {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	return &WeatherProcessor{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    time.Duration(timeoutSeconds) * time.Second,
		httpClient: &http.Client{},
		cache:      newTTLCache[map[string]any](weatherCacheTTL),
	}
}

func (p *WeatherProcessor) Name() string           { return "weather" }
func (p *WeatherProcessor) Priority() int          { return 1 }
func (p *WeatherProcessor) Timeout() time.Duration { return p.timeout }

// IsAvailable requires an API key; without one the processor records
// "unavailable" rather than burning requests.
func (p *WeatherProcessor) IsAvailable() bool {
	return p.apiKey != "" && p.baseURL != ""
}

// openWeatherResponse is the subset of the current-weather payload the
// processor reads.
type openWeatherResponse struct {
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
		Pressure  float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Visibility float64 `json:"visibility"` // meters
	Sys        struct {
		Sunrise int64 `json:"sunrise"`
		Sunset  int64 `json:"sunset"`
	} `json:"sys"`
}

func (p *WeatherProcessor) Process(ctx context.Context, ec Context) Result {
	key := locationHourKey(ec.Latitude, ec.Longitude, ec.Timestamp)
	if data, ok := p.cache.get(key); ok {
		return okResult(data, 0.9)
	}

	u := fmt.Sprintf("%s/data/2.5/weather?lat=%.4f&lon=%.4f&appid=%s&units=metric",
		p.baseURL, ec.Latitude, ec.Longitude, p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return failResult(err.Error())
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return failResult(fmt.Sprintf("weather request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failResult(fmt.Sprintf("weather upstream status %d", resp.StatusCode))
	}

	var ow openWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&ow); err != nil {
		return failResult(fmt.Sprintf("weather decode failed: %v", err))
	}

	data := map[string]any{
		"temperature_c":       ow.Main.Temp,
		"feels_like_c":        ow.Main.FeelsLike,
		"humidity_percent":    ow.Main.Humidity,
		"pressure_hpa":        ow.Main.Pressure,
		"wind_speed_ms":       ow.Wind.Speed,
		"wind_direction_deg":  ow.Wind.Deg,
		"visibility_km":       ow.Visibility / 1000.0,
		"cloud_cover_percent": ow.Clouds.All,
		"weather_condition":   weatherCondition(ow),
		"sunrise_unix":        ow.Sys.Sunrise,
		"sunset_unix":         ow.Sys.Sunset,
	}

	p.cache.put(key, data)
	return okResult(data, 0.9)
}

// weatherCondition maps the upstream condition group onto the fixed
// vocabulary clients filter on.
func weatherCondition(ow openWeatherResponse) string {
	if len(ow.Weather) == 0 {
		return "unknown"
	}
	switch strings.ToLower(ow.Weather[0].Main) {
	case "clear":
		return "clear"
	case "clouds":
		return "cloudy"
	case "rain":
		return "rain"
	case "snow":
		return "snow"
	case "thunderstorm":
		return "thunderstorm"
	case "drizzle":
		return "drizzle"
	case "mist", "fog", "haze", "smoke", "dust", "sand", "ash", "squall", "tornado":
		return "atmosphere"
	default:
		return "unknown"
	}
}

func okResult(data map[string]any, confidence float64) Result {
	return Result{Success: true, Data: data, Confidence: &confidence}
}

func failResult(msg string) Result {
	return Result{Success: false, Error: msg}
}
