package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// tokenSafetyMargin is subtracted from the access token's expiry so a
// request never goes out with a token about to lapse mid-flight.
const tokenSafetyMargin = 5 * time.Minute

// OpenSkyClient implements StateSource against the OpenSky Network REST API
// (or any API speaking the same /states/all shape).
//
// Lookups are quantised into time buckets and cached per bucket, so a burst
// of sightings in the same area reuses one upstream call.
type OpenSkyClient struct {
	baseURL    string
	httpClient *http.Client

	// limiter throttles upstream calls; the anonymous OpenSky quota is
	// roughly one request per 10 seconds per area.
	limiter *rate.Limiter

	// OAuth client-credentials against the upstream identity service.
	tokenURL     string
	clientID     string
	clientSecret string

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// Per-bucket response cache.
	bucketSeconds int
	cacheTTL      time.Duration
	cacheMu       sync.Mutex
	cache         map[string]cachedStates
}

type cachedStates struct {
	states  []StateVector
	expires time.Time
}

// OpenSkyConfig configures an OpenSkyClient.
type OpenSkyConfig struct {
	BaseURL       string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	BucketSeconds int
	CacheTTL      time.Duration
}

// NewOpenSkyClient creates a state-vector client. TokenURL may be empty,
// in which case requests go out unauthenticated on the anonymous quota.
func NewOpenSkyClient(cfg OpenSkyConfig) *OpenSkyClient {
	if cfg.BucketSeconds <= 0 {
		cfg.BucketSeconds = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Second
	}
	return &OpenSkyClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		limiter:       rate.NewLimiter(rate.Every(time.Second), 2),
		tokenURL:      cfg.TokenURL,
		clientID:      cfg.ClientID,
		clientSecret:  cfg.ClientSecret,
		bucketSeconds: cfg.BucketSeconds,
		cacheTTL:      cfg.CacheTTL,
		cache:         make(map[string]cachedStates),
	}
}

// StatesInBox returns aircraft state vectors within the lat/lon window.
// The timestamp is quantised to the configured bucket; repeated calls in
// the same bucket and box are served from cache.
func (c *OpenSkyClient) StatesInBox(ctx context.Context, minLat, maxLat, minLon, maxLon float64, t time.Time) ([]StateVector, error) {
	bucket := t.UTC().Unix() / int64(c.bucketSeconds)
	key := fmt.Sprintf("%d:%.3f:%.3f:%.3f:%.3f", bucket, minLat, maxLat, minLon, maxLon)

	c.cacheMu.Lock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expires) {
		states := entry.states
		c.cacheMu.Unlock()
		return states, nil
	}
	c.cacheMu.Unlock()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate wait: %w", err)
	}

	states, err := c.fetchStates(ctx, minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cache[key] = cachedStates{states: states, expires: time.Now().Add(c.cacheTTL)}
	// Lazy eviction keeps the map from growing unbounded.
	for k, entry := range c.cache {
		if time.Now().After(entry.expires) {
			delete(c.cache, k)
		}
	}
	c.cacheMu.Unlock()

	return states, nil
}

// Close cleanly shuts down the client. No persistent connections are held.
func (c *OpenSkyClient) Close() error {
	return nil
}

func (c *OpenSkyClient) fetchStates(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]StateVector, error) {
	u := fmt.Sprintf("%s/states/all?lamin=%.4f&lamax=%.4f&lomin=%.4f&lomax=%.4f",
		c.baseURL, minLat, maxLat, minLon, maxLon)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	if c.tokenURL != "" {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Provider: "opensky", Message: err.Error(), Retriable: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{Provider: "opensky", StatusCode: resp.StatusCode, Message: string(body), Retriable: true}
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{Provider: "opensky", StatusCode: resp.StatusCode, Message: string(body)}
	}

	var apiResp openskyResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse states response: %w", err)
	}

	states := make([]StateVector, 0, len(apiResp.States))
	for _, raw := range apiResp.States {
		sv, ok := parseStateVector(raw)
		if !ok {
			continue
		}
		states = append(states, sv)
	}
	return states, nil
}

// token returns a valid access token, refreshing through the identity
// service when the cached one is within the safety margin of expiry.
// Refresh is serialised so concurrent lookups share one upstream call.
func (c *OpenSkyClient) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSafetyMargin)) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UpstreamError{Provider: "opensky-auth", Message: err.Error(), Retriable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &UpstreamError{Provider: "opensky-auth", StatusCode: resp.StatusCode, Message: string(body)}
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}

	c.accessToken = tr.AccessToken
	c.tokenExpiry = tokenExpiry(tr.AccessToken, tr.ExpiresIn)
	return c.accessToken, nil
}

// tokenExpiry determines when an access token lapses. The exp claim of the
// JWT is authoritative when present; expires_in is the fallback for opaque
// tokens.
func tokenExpiry(token string, expiresIn int) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Now().Add(30 * time.Minute)
}

// openskyResponse is the /states/all payload. Each state is a positional
// array, per the OpenSky API shape.
type openskyResponse struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// parseStateVector converts one positional state array. Index layout:
// 0 icao24, 1 callsign, 5 longitude, 6 latitude, 7 baro_altitude,
// 8 on_ground, 9 velocity, 10 true_track, 11 vertical_rate,
// 13 geo_altitude, 4 last_contact.
func parseStateVector(raw []any) (StateVector, bool) {
	var sv StateVector
	if len(raw) < 14 {
		return sv, false
	}

	icao, ok := raw[0].(string)
	if !ok || icao == "" {
		return sv, false
	}
	sv.ICAO24 = strings.ToLower(strings.TrimSpace(icao))

	if cs, ok := raw[1].(string); ok {
		sv.Callsign = strings.TrimSpace(cs)
	}
	if lc, ok := raw[4].(float64); ok {
		sv.LastContact = time.Unix(int64(lc), 0).UTC()
	}
	sv.Longitude = asFloat(raw[5])
	sv.Latitude = asFloat(raw[6])
	sv.BaroAltitudeM = asFloat(raw[7])
	if og, ok := raw[8].(bool); ok {
		sv.OnGround = og
	}
	sv.VelocityMS = asFloat(raw[9])
	sv.TrackDeg = asFloat(raw[10])
	sv.VerticalRateMS = asFloat(raw[11])
	sv.GeoAltitudeM = asFloat(raw[13])

	return sv, true
}

func asFloat(v any) *float64 {
	if f, ok := v.(float64); ok {
		return &f
	}
	return nil
}
