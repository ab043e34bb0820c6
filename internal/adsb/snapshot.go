// Package adsb provides the aircraft snapshot types decoded from a readsb
// aircraft.json feed.
package adsb

import (
	"encoding/json"
	"strings"
)

// Altitude handles the readsb alt_baro field, which is either a number of
// feet or the string "ground". An aircraft on the ground decodes as 0 ft.
type Altitude int

func (a *Altitude) UnmarshalJSON(data []byte) error {
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		*a = Altitude(i)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		// "ground" and anything else non-numeric means on the surface.
		*a = 0
		return nil
	}

	*a = 0
	return nil
}

// Observation is one aircraft's instantaneous state in a snapshot.
// Optional fields are pointers; absent means the receiver did not decode
// that field for this aircraft.
type Observation struct {
	ICAOHex      string    `json:"hex"`
	Callsign     string    `json:"flight"` // Raw, untrimmed.
	AircraftType string    `json:"t"`      // From the readsb aircraft database.
	Squawk       string    `json:"squawk"`
	Altitude     *Altitude `json:"alt_baro"`
	Lat          *float64  `json:"lat"`
	Lon          *float64  `json:"lon"`
	Track        *float64  `json:"track"`
	GroundSpeed  *float64  `json:"gs"`
}

// TrimmedCallsign returns the callsign with surrounding whitespace removed.
// readsb pads callsigns to eight characters.
func (o *Observation) TrimmedCallsign() string {
	return strings.TrimSpace(o.Callsign)
}

// HasPosition reports whether both latitude and longitude were decoded.
func (o *Observation) HasPosition() bool {
	return o.Lat != nil && o.Lon != nil
}

// AltitudeFt returns the barometric altitude in feet, or (0, false) if absent.
func (o *Observation) AltitudeFt() (int, bool) {
	if o.Altitude == nil {
		return 0, false
	}
	return int(*o.Altitude), true
}

// Snapshot is one batch of currently tracked aircraft from the sensor feed.
type Snapshot struct {
	Now      float64       `json:"now"` // Feed epoch timestamp, informational only.
	Aircraft []Observation `json:"aircraft"`
}

// DecodeSnapshot parses a readsb aircraft.json document.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
