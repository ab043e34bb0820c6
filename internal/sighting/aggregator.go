package sighting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adsb_tracker/internal/adsb"
	"adsb_tracker/internal/geo"
	"adsb_tracker/internal/storage"
)

// Aggregator applies observations to the sighting table. Updates are
// serialized so the read-merge-write cycle for a row never interleaves.
type Aggregator struct {
	store       storage.Store
	receiverLat *float64
	receiverLon *float64
	loc         *time.Location

	mu sync.Mutex
}

// NewAggregator creates an aggregator writing through the given store.
// Dates are formed in loc, the receiver's local zone. The receiver
// coordinates may be nil, in which case max distance is never computed.
func NewAggregator(store storage.Store, receiverLat, receiverLon *float64, loc *time.Location) *Aggregator {
	return &Aggregator{
		store:       store,
		receiverLat: receiverLat,
		receiverLon: receiverLon,
		loc:         loc,
	}
}

// Observe folds one observation into its day's sighting row and returns the
// merged row. Observations without a callsign or without a position are
// skipped with ok=false.
func (a *Aggregator) Observe(ctx context.Context, obs adsb.Observation, now time.Time) (storage.Sighting, bool, error) {
	callsign := obs.TrimmedCallsign()
	if callsign == "" || !obs.HasPosition() {
		return storage.Sighting{}, false, nil
	}

	date := now.In(a.loc).Format("2006-01-02")

	var distance *float64
	if a.receiverLat != nil && a.receiverLon != nil {
		d := geo.DistanceNM(*a.receiverLat, *a.receiverLon, *obs.Lat, *obs.Lon)
		distance = &d
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.store.GetSighting(ctx, callsign, date)
	if err != nil {
		return storage.Sighting{}, false, fmt.Errorf("get sighting %s/%s: %w", callsign, date, err)
	}

	merged := Merge(existing, obs, date, now, distance)
	if err := a.store.UpsertSighting(ctx, merged); err != nil {
		return storage.Sighting{}, false, fmt.Errorf("upsert sighting %s/%s: %w", callsign, date, err)
	}
	return merged, true, nil
}
