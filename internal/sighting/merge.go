// Package sighting folds aircraft observations into per-day sighting rows.
// A sighting is keyed by (callsign, date): the same flight number seen on
// two calendar days is two sightings.
package sighting

import (
	"time"

	"adsb_tracker/internal/adsb"
	"adsb_tracker/internal/storage"
)

// DeriveAirline returns the airline designator for a callsign: the first
// three characters of the trimmed callsign. Callsigns shorter than three
// characters have no airline.
func DeriveAirline(callsign string) *string {
	if len(callsign) < 3 {
		return nil
	}
	prefix := callsign[:3]
	return &prefix
}

// Merge folds one observation into an existing sighting row, or starts a
// new one when existing is nil. The result is the complete replacement row.
//
// Altitude and distance are absent-neutral: an observation without the
// field cannot widen the stored extremes. The squawk is always overwritten
// with the latest value, including clearing it when the observation has
// none.
func Merge(existing *storage.Sighting, obs adsb.Observation, date string, now time.Time, distanceNM *float64) storage.Sighting {
	callsign := obs.TrimmedCallsign()

	var s storage.Sighting
	if existing != nil {
		s = *existing
	} else {
		s = storage.Sighting{
			Date:      date,
			Callsign:  callsign,
			Airline:   DeriveAirline(callsign),
			FirstSeen: now,
		}
	}
	s.LastSeen = now

	if obs.ICAOHex != "" {
		s.ICAOHex = obs.ICAOHex
	}
	if obs.AircraftType != "" {
		s.AircraftType = obs.AircraftType
	}

	if alt, ok := obs.AltitudeFt(); ok {
		if s.MinAltitude == nil || alt < *s.MinAltitude {
			v := alt
			s.MinAltitude = &v
		}
		if s.MaxAltitude == nil || alt > *s.MaxAltitude {
			v := alt
			s.MaxAltitude = &v
		}
	}

	if distanceNM != nil {
		if s.MaxDistanceNM == nil || *distanceNM > *s.MaxDistanceNM {
			v := *distanceNM
			s.MaxDistanceNM = &v
		}
	}

	if obs.Squawk != "" {
		v := obs.Squawk
		s.Squawk = &v
	} else {
		s.Squawk = nil
	}

	return s
}
