package routecache

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"adsb_tracker/internal/storage"
)

// StaleDays is the re-lookup window. An entry whose age reaches this many
// whole days is looked up again; both hits and confirmed misses count as
// fresh inside the window.
const StaleDays = 7

// memTTL bounds how long a database row is served from process memory
// before being re-read.
const memTTL = 30 * time.Minute

// Resolver serves route lookups through a two-level cache: a short-lived
// in-memory layer over the durable route_cache table, falling through to
// the API provider only for stale entries.
type Resolver struct {
	store  storage.Store
	lookup Lookup
	log    *slog.Logger
	mem    *gocache.Cache

	now func() time.Time
}

// NewResolver creates a resolver over the given store and provider.
func NewResolver(store storage.Store, lookup Lookup, log *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		lookup: lookup,
		log:    log,
		mem:    gocache.New(memTTL, 10*time.Minute),
		now:    time.Now,
	}
}

// Resolve returns the cached route entry for a callsign, refreshing it from
// the provider when stale. Provider failures are swallowed and cached as
// unknown, like confirmed misses, so a flaky provider is not hammered every
// run; the lookup is retried once the entry ages out.
func (r *Resolver) Resolve(ctx context.Context, callsign string) (*storage.RouteCacheEntry, error) {
	now := r.now()

	if v, ok := r.mem.Get(callsign); ok {
		entry := v.(*storage.RouteCacheEntry)
		if entry.State(now, StaleDays) != storage.CacheStale {
			return entry, nil
		}
		r.mem.Delete(callsign)
	}

	entry, err := r.store.GetRoute(ctx, callsign)
	if err != nil {
		return nil, err
	}
	if entry.State(now, StaleDays) != storage.CacheStale {
		r.mem.Set(callsign, entry, gocache.DefaultExpiration)
		return entry, nil
	}

	route, err := r.lookup.Route(ctx, callsign)
	if err != nil {
		// Treated like a confirmed miss: the negative entry below keeps
		// the provider from being asked again until the window passes.
		r.log.Warn("route lookup failed", "callsign", callsign, "error", err)
		route = nil
	}

	fresh := entryFromRoute(callsign, route, now)
	if err := r.store.PutRoute(ctx, fresh); err != nil {
		return nil, err
	}
	r.mem.Set(callsign, &fresh, gocache.DefaultExpiration)
	return &fresh, nil
}

func entryFromRoute(callsign string, route *Route, now time.Time) storage.RouteCacheEntry {
	e := storage.RouteCacheEntry{
		Callsign:    callsign,
		LastUpdated: now,
	}
	if route == nil {
		// Confirmed unknown. Cached so the provider is not asked again
		// inside the window.
		e.Success = false
		return e
	}

	e.Success = true
	e.OriginIATA = optStr(route.Origin.IATA)
	e.OriginICAO = optStr(route.Origin.ICAO)
	e.OriginName = optStr(route.Origin.Name)
	e.OriginCountry = optStr(route.Origin.Country)
	e.OriginLat = optFloat(route.Origin.Lat)
	e.OriginLon = optFloat(route.Origin.Lon)
	e.DestinationIATA = optStr(route.Destination.IATA)
	e.DestinationICAO = optStr(route.Destination.ICAO)
	e.DestinationName = optStr(route.Destination.Name)
	e.DestinationCountry = optStr(route.Destination.Country)
	e.DestinationLat = optFloat(route.Destination.Lat)
	e.DestinationLon = optFloat(route.Destination.Lon)
	return e
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optFloat(f float64) *float64 {
	if f == 0 {
		return nil
	}
	return &f
}
