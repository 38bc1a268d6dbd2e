// Package enrich runs the sighting enrichment pipeline: a priority-ordered
// registry of processors (weather, geocoding, celestial, satellites,
// content analysis, aircraft match) executed in bounded-concurrency
// batches with per-processor timeouts. Every processor outcome is merged
// into the sighting's enrichment data, success or not, so callers can
// tell "not run" from "ran and failed".
package enrich

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/skybeep/skybeep/internal/store"
	"github.com/skybeep/skybeep/pkg/retry"
)

// Context is the per-sighting input every processor receives.
type Context struct {
	SightingID  string
	Latitude    float64
	Longitude   float64
	AltitudeM   *float64
	Timestamp   time.Time
	AzimuthDeg  *float64
	PitchDeg    *float64
	RollDeg     *float64
	Category    string
	Title       string
	Description string
}

// Result is one processor's outcome.
type Result struct {
	Success          bool
	Data             map[string]any
	Error            string
	ProcessingTimeMs int64
	Confidence       *float64
	Metadata         map[string]any
}

// Processor is the pluggable enrichment capability. Name is the stable
// key the result is stored under; smaller Priority runs earlier.
type Processor interface {
	Name() string
	Priority() int
	Timeout() time.Duration
	IsAvailable() bool
	Process(ctx context.Context, ec Context) Result
}

// Registry holds processors ordered by ascending priority.
type Registry struct {
	processors []Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a processor, keeping priority order.
func (r *Registry) Register(p Processor) {
	r.processors = append(r.processors, p)
	sort.SliceStable(r.processors, func(i, j int) bool {
		return r.processors[i].Priority() < r.processors[j].Priority()
	})
}

// Processors returns the registered processors in priority order.
func (r *Registry) Processors() []Processor {
	return r.processors
}

// Orchestrator executes the registry against a sighting and writes every
// result back through the store.
type Orchestrator struct {
	registry    *Registry
	store       store.Store
	concurrency int
	log         *logrus.Entry
}

// NewOrchestrator builds an orchestrator. concurrency defaults to 3.
func NewOrchestrator(registry *Registry, st store.Store, concurrency int, log *logrus.Entry) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 3
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		registry:    registry,
		store:       st,
		concurrency: concurrency,
		log:         log,
	}
}

// Enrich runs every processor for the sighting. Processors run in batches
// of at most the configured concurrency, preserving priority order at
// batch boundaries. A slow or failing processor never affects siblings.
func (o *Orchestrator) Enrich(ctx context.Context, ec Context) map[string]Result {
	processors := o.registry.Processors()
	results := make(map[string]Result, len(processors))

	var runnable []Processor
	for _, p := range processors {
		if !p.IsAvailable() {
			results[p.Name()] = Result{Success: false, Error: "unavailable"}
			continue
		}
		runnable = append(runnable, p)
	}

	type outcome struct {
		name   string
		result Result
	}

	for start := 0; start < len(runnable); start += o.concurrency {
		end := start + o.concurrency
		if end > len(runnable) {
			end = len(runnable)
		}
		batch := runnable[start:end]

		outcomes := make([]outcome, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, p := range batch {
			i, p := i, p
			g.Go(func() error {
				outcomes[i] = outcome{name: p.Name(), result: o.runOne(gctx, p, ec)}
				return nil
			})
		}
		g.Wait()

		for _, oc := range outcomes {
			results[oc.name] = oc.result
		}
	}

	for name, result := range results {
		o.writeBack(ctx, ec.SightingID, name, result)
	}
	return results
}

// runOne executes a single processor under its own deadline. The
// processor runs in its own goroutine so a hung one cannot stall the
// batch past its timeout; a late result is discarded.
func (o *Orchestrator) runOne(ctx context.Context, p Processor, ec Context) Result {
	timeout := p.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	done := make(chan Result, 1)
	go func() {
		done <- p.Process(pctx, ec)
	}()

	select {
	case result := <-done:
		result.ProcessingTimeMs = time.Since(started).Milliseconds()
		return result
	case <-pctx.Done():
		o.log.WithFields(logrus.Fields{
			"processor":   p.Name(),
			"sighting_id": ec.SightingID,
			"timeout":     timeout,
		}).Warn("Enrichment processor timed out")
		return Result{
			Success:          false,
			Error:            "timeout",
			ProcessingTimeMs: time.Since(started).Milliseconds(),
		}
	}
}

// writeBack merges the result section into the sighting, retrying
// transient store failures.
func (o *Orchestrator) writeBack(ctx context.Context, sightingID, name string, result Result) {
	section := Section(result)

	cfg := retry.DefaultConfig()
	cfg.Retriable = store.IsTransient
	err := retry.Do(ctx, cfg, func() error {
		return o.store.MergeEnrichment(ctx, sightingID, name, section)
	})
	if err != nil {
		o.log.WithFields(logrus.Fields{
			"processor":   name,
			"sighting_id": sightingID,
		}).WithError(err).Error("Failed to persist enrichment result")
	}
}

// Section converts a Result into the map persisted under the processor's
// name. Payload keys are preserved verbatim; bookkeeping fields ride
// alongside them.
func Section(result Result) map[string]any {
	section := make(map[string]any, len(result.Data)+4)
	for k, v := range result.Data {
		section[k] = v
	}
	if result.Success {
		section["status"] = "completed"
	} else {
		section["status"] = "failed"
		if result.Error != "" {
			section["error"] = result.Error
		}
	}
	section["processing_time_ms"] = result.ProcessingTimeMs
	if result.Confidence != nil {
		section["confidence"] = *result.Confidence
	}
	for k, v := range result.Metadata {
		section[k] = v
	}
	return section
}
