// Package pipeline runs one collection cycle: fetch a snapshot, fold it
// into sightings, resolve routes, evaluate alerts, and record positions.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"adsb_tracker/internal/adsb"
	"adsb_tracker/internal/alert"
	"adsb_tracker/internal/feed"
	"adsb_tracker/internal/notify"
	"adsb_tracker/internal/routecache"
	"adsb_tracker/internal/sighting"
	"adsb_tracker/internal/storage"
)

// positionRetention is how long track points stay in the relational store.
// The ClickHouse archive, when configured, keeps them indefinitely.
const positionRetention = 2 * time.Hour

// routeWorkers bounds concurrent route lookups per run.
const routeWorkers = 4

// RunStats summarizes one collection cycle. A run tolerates per-aircraft
// evaluation issues; Errors counts them. Store write failures abort the
// run instead.
type RunStats struct {
	RunID          string
	Aircraft       int // observations in the snapshot
	Recorded       int // sightings folded
	Positions      int // track points written
	Pruned         int64
	RoutesResolved int
	Alerts         int
	PushesSent     int
	Errors         int
}

// Pipeline wires the collection stages together.
type Pipeline struct {
	source     feed.Source
	store      storage.Store
	aggregator *sighting.Aggregator
	engine     *alert.Engine
	dispatcher *notify.Dispatcher
	resolver   *routecache.Resolver
	archive    *storage.PositionArchive // optional
	log        *slog.Logger
}

// New creates a pipeline. archive may be nil.
func New(
	source feed.Source,
	store storage.Store,
	aggregator *sighting.Aggregator,
	engine *alert.Engine,
	dispatcher *notify.Dispatcher,
	resolver *routecache.Resolver,
	archive *storage.PositionArchive,
	log *slog.Logger,
) *Pipeline {
	return &Pipeline{
		source:     source,
		store:      store,
		aggregator: aggregator,
		engine:     engine,
		dispatcher: dispatcher,
		resolver:   resolver,
		archive:    archive,
		log:        log,
	}
}

// Run executes one collection cycle. A fetch failure or an inability to
// write to the store aborts the run with an error; per-aircraft alert
// evaluation failures are counted and skipped.
func (p *Pipeline) Run(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{RunID: uuid.NewString()}
	now := time.Now()

	snap, err := p.source.Fetch(ctx)
	if err != nil {
		return stats, fmt.Errorf("fetch snapshot: %w", err)
	}
	stats.Aircraft = len(snap.Aircraft)

	rules, err := p.store.ListEnabledRules(ctx)
	if err != nil {
		return stats, fmt.Errorf("load rules: %w", err)
	}

	var (
		events    []alert.TriggerEvent
		fixes     []storage.PositionFix
		callsigns = make(map[string]struct{})
	)

	for _, obs := range snap.Aircraft {
		_, recorded, err := p.aggregator.Observe(ctx, obs, now)
		if err != nil {
			return stats, fmt.Errorf("record sighting %s: %w", obs.ICAOHex, err)
		}
		if recorded {
			stats.Recorded++
			callsigns[obs.TrimmedCallsign()] = struct{}{}
			fixes = append(fixes, positionFix(obs, now))
		}

		evs, err := p.engine.Evaluate(ctx, rules, obs, now)
		if err != nil {
			stats.Errors++
			p.log.Error("alert evaluation failed", "run", stats.RunID, "hex", obs.ICAOHex, "error", err)
			continue
		}
		events = append(events, evs...)
	}

	stats.RoutesResolved, err = p.resolveRoutes(ctx, callsigns)
	if err != nil {
		return stats, fmt.Errorf("update route cache: %w", err)
	}

	stats.Alerts = len(events)
	sent, err := p.dispatcher.Dispatch(ctx, events)
	stats.PushesSent = sent
	if err != nil {
		return stats, fmt.Errorf("record alert history: %w", err)
	}

	for _, fix := range fixes {
		if err := p.store.InsertPosition(ctx, fix); err != nil {
			return stats, fmt.Errorf("record position %s: %w", fix.Callsign, err)
		}
		stats.Positions++
	}

	pruned, err := p.store.PrunePositions(ctx, now.Add(-positionRetention))
	if err != nil {
		return stats, fmt.Errorf("prune positions: %w", err)
	}
	stats.Pruned = pruned

	if p.archive != nil && len(fixes) > 0 {
		if err := p.archive.ArchiveBatch(ctx, fixes); err != nil {
			stats.Errors++
			p.log.Error("position archive failed", "run", stats.RunID, "error", err)
		}
	}

	p.log.Info("run complete",
		"run", stats.RunID,
		"aircraft", stats.Aircraft,
		"recorded", stats.Recorded,
		"positions", stats.Positions,
		"pruned", stats.Pruned,
		"routes", stats.RoutesResolved,
		"alerts", stats.Alerts,
		"pushes", stats.PushesSent,
		"errors", stats.Errors,
	)
	return stats, nil
}

// resolveRoutes refreshes the route cache for each distinct callsign in
// the batch with a bounded worker pool. Lookup failures are already
// swallowed inside the resolver, so an error here is a store failure.
func (p *Pipeline) resolveRoutes(ctx context.Context, callsigns map[string]struct{}) (int, error) {
	if len(callsigns) == 0 {
		return 0, nil
	}

	work := make(chan string)
	var wg sync.WaitGroup
	var mu sync.Mutex
	resolved := 0
	var firstErr error

	for i := 0; i < routeWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for callsign := range work {
				entry, err := p.resolver.Resolve(ctx, callsign)
				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = fmt.Errorf("callsign %s: %w", callsign, err)
				}
				if err == nil && entry != nil {
					resolved++
				}
				mu.Unlock()
			}
		}()
	}

	for callsign := range callsigns {
		work <- callsign
	}
	close(work)
	wg.Wait()
	return resolved, firstErr
}

func positionFix(obs adsb.Observation, now time.Time) storage.PositionFix {
	fix := storage.PositionFix{
		Callsign:    obs.TrimmedCallsign(),
		ICAOHex:     obs.ICAOHex,
		Lat:         *obs.Lat,
		Lon:         *obs.Lon,
		Track:       obs.Track,
		GroundSpeed: obs.GroundSpeed,
		Timestamp:   now,
	}
	if alt, ok := obs.AltitudeFt(); ok {
		fix.Altitude = &alt
	}
	return fix
}
