// Package alert matches aircraft observations against user-defined rules
// and deduplicates triggers over a rolling window.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"adsb_tracker/internal/adsb"
	"adsb_tracker/internal/storage"
)

// DedupWindow is how long a (rule, aircraft) pair stays muted after
// triggering. The window is anchored on history records, so it survives
// restarts.
const DedupWindow = 30 * time.Minute

// TriggerEvent is one rule firing for one aircraft.
type TriggerEvent struct {
	Rule        storage.AlertRule
	Observation adsb.Observation
	TriggeredAt time.Time
}

// Matches reports whether a rule matches an observation. Rule types with
// no recognized matcher never match.
func Matches(rule storage.AlertRule, obs *adsb.Observation) bool {
	switch rule.Type {
	case storage.RuleSquawk:
		squawk := strings.TrimSpace(obs.Squawk)
		return squawk != "" && squawk == rule.Value
	case storage.RuleCallsign:
		callsign := obs.TrimmedCallsign()
		return callsign != "" && strings.Contains(strings.ToUpper(callsign), strings.ToUpper(rule.Value))
	case storage.RuleAircraftType:
		return obs.AircraftType != "" && strings.EqualFold(obs.AircraftType, rule.Value)
	}
	return false
}

// Engine evaluates enabled rules against observations, consulting alert
// history for deduplication.
type Engine struct {
	store storage.Store
}

// NewEngine creates an alert engine over the given store.
func NewEngine(store storage.Store) *Engine {
	return &Engine{store: store}
}

// Evaluate returns one trigger event per rule that matches the observation
// and has not fired for this aircraft inside the dedup window.
func (e *Engine) Evaluate(ctx context.Context, rules []storage.AlertRule, obs adsb.Observation, now time.Time) ([]TriggerEvent, error) {
	var events []TriggerEvent
	cutoff := now.Add(-DedupWindow)

	for _, rule := range rules {
		if !Matches(rule, &obs) {
			continue
		}

		recent, err := e.store.WasRecentlyTriggered(ctx, rule.ID, obs.ICAOHex, cutoff)
		if err != nil {
			return nil, fmt.Errorf("dedup check rule %d: %w", rule.ID, err)
		}
		if recent {
			continue
		}

		events = append(events, TriggerEvent{
			Rule:        rule,
			Observation: obs,
			TriggeredAt: now,
		})
	}
	return events, nil
}
