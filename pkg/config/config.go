// Package config loads the backend configuration. Configuration lives in a
// JSON file with sensible defaults; secrets and deployment-specific values
// can be overridden through SKYBEEP_* environment variables so they stay
// out of the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config represents the complete application configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Privacy    PrivacyConfig    `json:"privacy"`
	Fanout     FanoutConfig     `json:"fanout"`
	Witness    WitnessConfig    `json:"witness"`
	Enrichment EnrichmentConfig `json:"enrichment"`
	Aircraft   AircraftConfig   `json:"aircraft"`
	Weather    ProviderConfig   `json:"weather"`
	Geocoding  ProviderConfig   `json:"geocoding"`
	Satellites SatelliteConfig  `json:"satellites"`
	Push       PushConfig       `json:"push"`
	Media      MediaConfig      `json:"media"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// RequestTimeoutSeconds bounds every client-facing operation (default: 30)
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

// DatabaseConfig contains PostgreSQL connection settings. The gateway holds
// a single shared pool sized by these limits; request paths never open
// ad-hoc connections.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`

	// Password should be supplied via SKYBEEP_DB_PASSWORD
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	MaxOpenConns int `json:"max_open_conns"`
	MaxIdleConns int `json:"max_idle_conns"`

	// PostGIS enables the geo-index query path for the device directory.
	// When false the directory falls back to haversine filtering.
	PostGIS bool `json:"postgis"`
}

// RedisConfig configures the optional shared keystore for rate counters.
// When Addr is empty the gates run on in-process counters.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PrivacyConfig controls coordinate jittering.
type PrivacyConfig struct {
	// JitterMinM is the minimum displacement in meters (default: 100)
	JitterMinM float64 `json:"jitter_min_m"`

	// JitterMaxM is the maximum displacement in meters (default: 300)
	JitterMaxM float64 `json:"jitter_max_m"`
}

// FanoutConfig controls the proximity alert engine.
type FanoutConfig struct {
	// RingsKm are the concentric alert radii, ascending (default: 1,5,10,25)
	RingsKm []float64 `json:"rings_km"`

	// DeviceResultCap bounds a single directory query (default: 1000)
	DeviceResultCap int `json:"device_result_cap"`

	// Rate15MinCap suppresses fan-out when more sightings than this were
	// created globally in the last 15 minutes (default: 3)
	Rate15MinCap int `json:"rate_15min_cap"`

	// EmergencyOverrideWitnessCount lifts the suppression when at least
	// this many confirmations landed within 5 minutes inside 1 km
	// (default: 10)
	EmergencyOverrideWitnessCount int `json:"emergency_override_witness_count"`

	// MaxConcurrentRings bounds parallel ring dispatch (default: 4)
	MaxConcurrentRings int `json:"max_concurrent_rings"`
}

// WitnessConfig controls confirmation acceptance.
type WitnessConfig struct {
	// WindowMinutes after sighting creation during which confirmations
	// are accepted (default: 60)
	WindowMinutes int `json:"window_minutes"`

	// RatePerHour is the per-device confirmation budget (default: 5)
	RatePerHour int `json:"rate_per_hour"`

	// MaxConfirmKm is the distance guard when weather visibility is
	// unavailable (default: 50)
	MaxConfirmKm float64 `json:"max_confirm_km"`
}

// EnrichmentConfig controls the processor pipeline.
type EnrichmentConfig struct {
	// Concurrency is the maximum number of processors running at once
	// (default: 3)
	Concurrency int `json:"concurrency"`

	// Per-processor timeouts in seconds.
	WeatherTimeoutS   int `json:"weather_timeout_s"`
	GeocodeTimeoutS   int `json:"geocode_timeout_s"`
	CelestialTimeoutS int `json:"celestial_timeout_s"`
	SatelliteTimeoutS int `json:"satellite_timeout_s"`
	ContentTimeoutS   int `json:"content_timeout_s"`
}

// AircraftConfig controls the aircraft-match analyser.
type AircraftConfig struct {
	// RadiusKm is the state-vector search radius (default: 50, hard cap 80)
	RadiusKm float64 `json:"radius_km"`

	// ToleranceDeg is the angular-error acceptance threshold (default: 2.5)
	ToleranceDeg float64 `json:"tolerance_deg"`

	// TimeQuantS quantises lookup timestamps into cache buckets (default: 5)
	TimeQuantS int `json:"time_quant_s"`

	// CacheTTLS is the per-bucket state cache lifetime (default: 10)
	CacheTTLS int `json:"cache_ttl_s"`

	// BaseURL of the state-vector API (OpenSky-compatible).
	BaseURL string `json:"base_url"`

	// TokenURL of the upstream identity service for OAuth client
	// credentials. Empty disables authentication (anonymous quota).
	TokenURL     string `json:"token_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// ProviderConfig is a generic remote enrichment provider.
type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// SatelliteConfig controls satellite pass prediction.
type SatelliteConfig struct {
	// TLEBaseURL serves CelesTrak-style TLE group files.
	TLEBaseURL string `json:"tle_base_url"`

	// TLETTLHours is the TLE set cache lifetime (default: 2)
	TLETTLHours int `json:"tle_ttl_hours"`

	// MaxStarlink bounds the brightest Starlink set considered (default: 20)
	MaxStarlink int `json:"max_starlink"`

	// MaxVisual bounds the named visual satellite set (default: 10)
	MaxVisual int `json:"max_visual"`
}

// PushConfig configures FCM delivery.
type PushConfig struct {
	// CredentialsFile is the path to the Firebase service-account JSON.
	// Empty leaves the dispatcher unconfigured; ingestion then reports
	// total_alerted=0 instead of failing.
	CredentialsFile string `json:"credentials_file"`

	// BatchSize bounds one FCM SendEach call (default: 500, the FCM limit)
	BatchSize int `json:"batch_size"`
}

// MediaConfig configures media storage.
type MediaConfig struct {
	// Dir is the local storage root for uploaded artifacts.
	Dir string `json:"dir"`

	// BaseURL prefixes all public media URLs.
	BaseURL string `json:"base_url"`

	// ThumbnailPx, WebPx and PreviewPx are the rendition bounding sizes.
	ThumbnailPx int `json:"thumbnail_px"`
	WebPx       int `json:"web_px"`
	PreviewPx   int `json:"preview_px"`
}

// Load reads configuration from a JSON file. If the file doesn't exist,
// returns the default configuration with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                  "8080",
			Host:                  "0.0.0.0",
			RequestTimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "skybeep",
			Username:     "skybeep",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 1,
			PostGIS:      true,
		},
		Privacy: PrivacyConfig{
			JitterMinM: 100,
			JitterMaxM: 300,
		},
		Fanout: FanoutConfig{
			RingsKm:                       []float64{1, 5, 10, 25},
			DeviceResultCap:               1000,
			Rate15MinCap:                  3,
			EmergencyOverrideWitnessCount: 10,
			MaxConcurrentRings:            4,
		},
		Witness: WitnessConfig{
			WindowMinutes: 60,
			RatePerHour:   5,
			MaxConfirmKm:  50,
		},
		Enrichment: EnrichmentConfig{
			Concurrency:       3,
			WeatherTimeoutS:   10,
			GeocodeTimeoutS:   8,
			CelestialTimeoutS: 15,
			SatelliteTimeoutS: 20,
			ContentTimeoutS:   30,
		},
		Aircraft: AircraftConfig{
			RadiusKm:     50,
			ToleranceDeg: 2.5,
			TimeQuantS:   5,
			CacheTTLS:    10,
			BaseURL:      "https://opensky-network.org/api",
			TokenURL:     "",
		},
		Weather: ProviderConfig{
			BaseURL: "https://api.openweathermap.org",
		},
		Geocoding: ProviderConfig{
			BaseURL: "https://api.openweathermap.org",
		},
		Satellites: SatelliteConfig{
			TLEBaseURL:  "https://celestrak.org/NORAD/elements/gp.php",
			TLETTLHours: 2,
			MaxStarlink: 20,
			MaxVisual:   10,
		},
		Push: PushConfig{
			BatchSize: 500,
		},
		Media: MediaConfig{
			Dir:         "data/media",
			BaseURL:     "http://localhost:8080/media",
			ThumbnailPx: 256,
			WebPx:       1280,
			PreviewPx:   640,
		},
	}
}

// applyEnvironmentOverrides applies environment variable overrides so
// secrets stay out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("SKYBEEP_PORT"); port != "" {
		c.Server.Port = port
	}
	if v := os.Getenv("SKYBEEP_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("SKYBEEP_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("SKYBEEP_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SKYBEEP_WEATHER_API_KEY"); v != "" {
		c.Weather.APIKey = v
	}
	if v := os.Getenv("SKYBEEP_GEOCODING_API_KEY"); v != "" {
		c.Geocoding.APIKey = v
	}
	if v := os.Getenv("SKYBEEP_AIRCRAFT_CLIENT_ID"); v != "" {
		c.Aircraft.ClientID = v
	}
	if v := os.Getenv("SKYBEEP_AIRCRAFT_CLIENT_SECRET"); v != "" {
		c.Aircraft.ClientSecret = v
	}
	if v := os.Getenv("SKYBEEP_FCM_CREDENTIALS"); v != "" {
		c.Push.CredentialsFile = v
	}
	if v := os.Getenv("SKYBEEP_MEDIA_DIR"); v != "" {
		c.Media.Dir = v
	}
	if v := os.Getenv("SKYBEEP_POSTGIS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Database.PostGIS = b
		}
	}
}
