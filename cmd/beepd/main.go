// beepd is the sighting-alert backend: beep ingestion with coordinate
// jittering, proximity fan-out over FCM, background enrichment, witness
// aggregation and the REST + websocket API in front of it all.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skybeep/skybeep/internal/alert"
	"github.com/skybeep/skybeep/internal/api"
	"github.com/skybeep/skybeep/internal/core"
	"github.com/skybeep/skybeep/internal/enrich"
	"github.com/skybeep/skybeep/internal/media"
	"github.com/skybeep/skybeep/internal/metrics"
	"github.com/skybeep/skybeep/internal/planematch"
	"github.com/skybeep/skybeep/internal/push"
	"github.com/skybeep/skybeep/internal/ratelimit"
	"github.com/skybeep/skybeep/internal/store"
	"github.com/skybeep/skybeep/internal/witness"
	"github.com/skybeep/skybeep/pkg/adsb"
	"github.com/skybeep/skybeep/pkg/config"
)

var configPath = flag.String("config", "configs/config.json", "Path to configuration file")

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	st := connectStore(cfg, log)
	defer st.Close()

	window := connectWindow(cfg, log)
	fanoutGate := ratelimit.NewFanoutGate(window, cfg.Fanout.Rate15MinCap)
	witnessGate := ratelimit.NewWitnessGate(window, cfg.Witness.RatePerHour)

	dispatcher := connectDispatcher(cfg, log)
	defer dispatcher.Close()

	analyzer := buildAnalyzer(cfg)
	enricher := enrich.NewOrchestrator(buildRegistry(cfg, analyzer), st, cfg.Enrichment.Concurrency, log)
	engine := alert.NewEngine(st, dispatcher, fanoutGate, cfg.Fanout, log)
	aggregator := witness.NewAggregator(st, witnessGate, cfg.Witness, log)

	mets := metrics.New()
	c := core.New(cfg, st, enricher, engine, aggregator, fanoutGate, analyzer, mets, log)

	var mediaStore media.Storage
	if cfg.Media.Dir != "" {
		fs, err := media.NewFileStorage(cfg.Media, log)
		if err != nil {
			log.WithError(err).Warn("Media storage unavailable; uploads disabled")
		} else {
			mediaStore = fs
		}
	}

	srv := api.NewServer(cfg, c, mediaStore, mets, log)

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds+5) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shut down")
	}
	c.Shutdown()
	log.Info("Server stopped")
}

// connectStore opens PostgreSQL and applies the schema. A failed
// connection falls back to the in-memory store so a development
// instance runs without infrastructure.
func connectStore(cfg *config.Config, log *logrus.Entry) store.Store {
	pg, err := store.Connect(cfg.Database)
	if err != nil {
		log.WithError(err).Warn("PostgreSQL unavailable; using in-memory store")
		return store.NewMemoryStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pg.InitSchema(ctx); err != nil {
		log.WithError(err).Warn("Schema initialisation failed")
	}
	log.WithFields(logrus.Fields{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Database,
	}).Info("Connected to PostgreSQL")
	return pg
}

// connectWindow picks the rate-limit counter backend: Redis when an
// address is configured, in-process otherwise.
func connectWindow(cfg *config.Config, log *logrus.Entry) ratelimit.Window {
	if cfg.Redis.Addr == "" {
		return ratelimit.NewMemoryWindow()
	}
	w, err := ratelimit.NewRedisWindow(cfg.Redis)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable; rate limits are per-process")
		return ratelimit.NewMemoryWindow()
	}
	log.WithField("addr", cfg.Redis.Addr).Info("Rate-limit counters in Redis")
	return w
}

// connectDispatcher builds the FCM dispatcher, or a no-op stand-in when
// no credentials are configured so fan-out degrades to zero deliveries.
func connectDispatcher(cfg *config.Config, log *logrus.Entry) push.Dispatcher {
	if cfg.Push.CredentialsFile == "" {
		log.Warn("No push credentials configured; alerts will not be delivered")
		return push.NoopDispatcher{}
	}
	d, err := push.NewFCMDispatcher(context.Background(), cfg.Push.CredentialsFile, cfg.Push.BatchSize)
	if err != nil {
		log.WithError(err).Warn("FCM initialisation failed; alerts will not be delivered")
		return push.NoopDispatcher{}
	}
	log.Info("FCM dispatcher ready")
	return d
}

// buildAnalyzer wires the aircraft-match analyser against the
// state-vector API when one is configured.
func buildAnalyzer(cfg *config.Config) *planematch.Analyzer {
	if cfg.Aircraft.BaseURL == "" {
		return nil
	}
	client := adsb.NewOpenSkyClient(adsb.OpenSkyConfig{
		BaseURL:       cfg.Aircraft.BaseURL,
		TokenURL:      cfg.Aircraft.TokenURL,
		ClientID:      cfg.Aircraft.ClientID,
		ClientSecret:  cfg.Aircraft.ClientSecret,
		BucketSeconds: cfg.Aircraft.TimeQuantS,
		CacheTTL:      time.Duration(cfg.Aircraft.CacheTTLS) * time.Second,
	})
	return planematch.NewAnalyzer(client, cfg.Aircraft.RadiusKm, cfg.Aircraft.ToleranceDeg)
}

// buildRegistry assembles the enrichment pipeline. Processors missing
// their credentials report themselves unavailable rather than failing.
func buildRegistry(cfg *config.Config, analyzer *planematch.Analyzer) *enrich.Registry {
	r := enrich.NewRegistry()
	r.Register(enrich.NewWeatherProcessor(cfg.Weather, cfg.Enrichment.WeatherTimeoutS))
	r.Register(enrich.NewGeocodeProcessor(cfg.Geocoding, cfg.Enrichment.GeocodeTimeoutS))
	r.Register(enrich.NewCelestialProcessor(cfg.Enrichment.CelestialTimeoutS))
	r.Register(enrich.NewSatelliteProcessor(cfg.Satellites, cfg.Enrichment.SatelliteTimeoutS))
	r.Register(enrich.NewContentProcessor(cfg.Enrichment.ContentTimeoutS))
	r.Register(enrich.NewAircraftProcessor(analyzer, 0))
	return r
}
