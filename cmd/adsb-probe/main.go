// adsb-probe verifies the configured state-vector source. It fetches
// aircraft around an observer position and prints distance, bearing and
// elevation for each, which is what the aircraft-match analyser sees.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/skybeep/skybeep/pkg/adsb"
	"github.com/skybeep/skybeep/pkg/config"
	"github.com/skybeep/skybeep/pkg/geo"
)

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	lat        = flag.Float64("lat", 47.6213, "Observer latitude")
	lon        = flag.Float64("lon", -122.3790, "Observer longitude")
	radiusKm   = flag.Float64("radius", 50, "Search radius in km")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	client := adsb.NewOpenSkyClient(adsb.OpenSkyConfig{
		BaseURL:      cfg.Aircraft.BaseURL,
		TokenURL:     cfg.Aircraft.TokenURL,
		ClientID:     cfg.Aircraft.ClientID,
		ClientSecret: cfg.Aircraft.ClientSecret,
	})
	defer client.Close()

	log.Printf("Observer: %.4f, %.4f (radius %.0f km)", *lat, *lon, *radiusKm)
	log.Printf("Source: %s", cfg.Aircraft.BaseURL)

	box, err := geo.BBox(*lat, *lon, *radiusKm)
	if err != nil {
		log.Fatalf("Invalid observer position: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	states, err := client.StatesInBox(ctx, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, time.Now().UTC())
	if err != nil {
		log.Fatalf("Failed to fetch state vectors: %v", err)
	}

	log.Printf("Found %d aircraft", len(states))
	for _, s := range states {
		if !s.HasPosition() {
			continue
		}
		distance := geo.DistanceKm(*lat, *lon, *s.Latitude, *s.Longitude)
		if distance > *radiusKm {
			continue
		}
		bearing := geo.BearingDeg(*lat, *lon, *s.Latitude, *s.Longitude)
		elevation := geo.ElevationDeg(s.AltitudeM(), distance*1000)
		callsign := s.Callsign
		if callsign == "" {
			callsign = "(no callsign)"
		}
		log.Printf("  %-8s %s  %5.1f km  az %5.1f°  el %4.1f°  alt %.0f m",
			s.ICAO24, callsign, distance, bearing, elevation, s.AltitudeM())
	}
}
