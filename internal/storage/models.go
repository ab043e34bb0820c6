package storage

import (
	"fmt"
	"time"
)

// RuleType is the closed set of alert rule kinds. Matching semantics per
// type live in the alert engine; storage only validates the tag.
type RuleType string

const (
	RuleSquawk       RuleType = "squawk"        // Exact squawk code match.
	RuleCallsign     RuleType = "callsign"      // Case-insensitive substring match.
	RuleAircraftType RuleType = "aircraft_type" // Case-insensitive exact type match.
)

// ParseRuleType validates a rule type string from the database or API.
func ParseRuleType(s string) (RuleType, error) {
	switch RuleType(s) {
	case RuleSquawk, RuleCallsign, RuleAircraftType:
		return RuleType(s), nil
	}
	return "", fmt.Errorf("unknown rule type %q", s)
}

// Sighting is the day-scoped aggregate of all observations for one callsign.
// Unique on (Callsign, Date).
type Sighting struct {
	Date          string // Calendar date in the receiver's zone, YYYY-MM-DD.
	ICAOHex       string
	Callsign      string // Trimmed.
	Airline       *string
	AircraftType  string
	FirstSeen     time.Time
	LastSeen      time.Time
	MinAltitude   *int
	MaxAltitude   *int
	MaxDistanceNM *float64
	Squawk        *string // Most recent, not an extreme.
}

// CacheState classifies a route cache entry against the staleness window.
type CacheState int

const (
	CacheStale CacheState = iota // Absent or past the window; re-lookup required.
	CacheFreshPositive
	CacheFreshNegative // Confirmed "no route known"; suppresses re-lookup.
)

// RouteCacheEntry is the cached result of one external route lookup.
// Unique on Callsign; new lookups overwrite, they never merge.
type RouteCacheEntry struct {
	Callsign           string
	OriginIATA         *string
	OriginICAO         *string
	OriginName         *string
	OriginCountry      *string
	OriginLat          *float64
	OriginLon          *float64
	DestinationIATA    *string
	DestinationICAO    *string
	DestinationName    *string
	DestinationCountry *string
	DestinationLat     *float64
	DestinationLon     *float64
	LastUpdated        time.Time
	Success            bool // false = confirmed "no route known", still fresh.
}

// State returns the tri-state classification of the entry. Staleness is
// whole elapsed days (floor), so an entry at exactly staleDays is stale but
// one a second short of that is not. A nil entry is stale.
func (e *RouteCacheEntry) State(now time.Time, staleDays int) CacheState {
	if e == nil {
		return CacheStale
	}
	ageDays := int(now.Sub(e.LastUpdated).Hours() / 24)
	if ageDays >= staleDays {
		return CacheStale
	}
	if e.Success {
		return CacheFreshPositive
	}
	return CacheFreshNegative
}

// AlertRule is a user-managed match rule, read-only from the pipeline.
type AlertRule struct {
	ID        int64
	Name      string
	Type      RuleType
	Value     string
	Enabled   bool
	CreatedAt time.Time
}

// AlertHistoryRecord is one append-only audit row per triggered alert.
// It is also the dedup source of truth: a row within the window suppresses
// a repeat for the same (RuleID, ICAOHex) regardless of SentPush.
type AlertHistoryRecord struct {
	ID           int64
	RuleID       int64
	ICAOHex      string
	Callsign     string
	AircraftType string
	Squawk       string
	Altitude     *int
	Lat          *float64
	Lon          *float64
	TriggeredAt  time.Time
	SentPush     bool
}

// NotifySettings carries push credentials and the administrative kill switch.
type NotifySettings struct {
	UserKey  string
	APIToken string
	Enabled  bool
}

// Configured reports whether both credentials are present.
func (s NotifySettings) Configured() bool {
	return s.UserKey != "" && s.APIToken != ""
}

// Settings keys understood by NotifierSettings.
const (
	SettingPushoverUserKey  = "pushover_user_key"
	SettingPushoverAPIToken = "pushover_api_token"
	SettingAlertsEnabled    = "alerts_enabled"
)

// PositionFix is one point of an aircraft track, kept for a short window
// for track visualization.
type PositionFix struct {
	ID          int64
	Callsign    string
	ICAOHex     string
	Lat         float64
	Lon         float64
	Altitude    *int
	Track       *float64
	GroundSpeed *float64
	Timestamp   time.Time
}

// AirlineCount is a reporting aggregate: sightings per derived airline code.
type AirlineCount struct {
	Airline string
	Count   int
}

// DailyStats is a reporting aggregate: per-date sighting totals.
type DailyStats struct {
	Date      string
	Sightings int
	Airlines  int
}
