package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"adsb_tracker/internal/alert"
	"adsb_tracker/internal/storage"
)

// Dispatcher turns trigger events into notifications and history records.
// Every event is written to history exactly once, with SentPush recording
// whether delivery succeeded. Delivery is at most once per event; a failed
// push is not retried.
type Dispatcher struct {
	store  storage.Store
	pusher Pusher
	log    *slog.Logger
	loc    *time.Location
}

// NewDispatcher creates a dispatcher. Trigger timestamps in notification
// bodies are rendered in loc.
func NewDispatcher(store storage.Store, pusher Pusher, log *slog.Logger, loc *time.Location) *Dispatcher {
	return &Dispatcher{store: store, pusher: pusher, log: log, loc: loc}
}

// Dispatch processes a batch of trigger events. It returns how many pushes
// were delivered; the error aggregates history write failures only, since
// push failures are logged and recorded in the history rows themselves.
func (d *Dispatcher) Dispatch(ctx context.Context, events []alert.TriggerEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	settings, err := d.store.NotifierSettings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load notifier settings: %w", err)
	}

	var sent int
	var errs []error
	for _, ev := range events {
		delivered := false
		if settings.Enabled && settings.Configured() {
			msg := buildMessage(ev, d.loc)
			if err := d.pusher.Push(ctx, settings, msg); err != nil {
				d.log.Warn("push delivery failed",
					"rule", ev.Rule.Name,
					"callsign", ev.Observation.TrimmedCallsign(),
					"error", err)
			} else {
				delivered = true
				sent++
			}
		}

		rec := historyRecord(ev, delivered)
		if err := d.store.InsertAlertHistory(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("record alert for rule %d: %w", ev.Rule.ID, err))
		}
	}
	return sent, errors.Join(errs...)
}

// buildMessage formats the notification for one trigger.
func buildMessage(ev alert.TriggerEvent, loc *time.Location) Message {
	obs := ev.Observation

	callsign := obs.TrimmedCallsign()
	if callsign == "" {
		callsign = "Unknown"
	}
	acType := obs.AircraftType
	if acType == "" {
		acType = "Unknown"
	}
	altitude, _ := obs.AltitudeFt()

	var b strings.Builder
	fmt.Fprintf(&b, "Aircraft: %s (%s)\n", callsign, acType)
	fmt.Fprintf(&b, "ICAO: %s\n", obs.ICAOHex)
	if obs.Squawk != "" {
		fmt.Fprintf(&b, "Squawk: %s\n", obs.Squawk)
	}
	fmt.Fprintf(&b, "Altitude: %d ft\n", altitude)
	fmt.Fprintf(&b, "\nTriggered: %s", ev.TriggeredAt.In(loc).Format("15:04:05"))

	return Message{
		Title:    fmt.Sprintf("🚨 Alert: %s", ev.Rule.Name),
		Body:     b.String(),
		Priority: 1,
	}
}

func historyRecord(ev alert.TriggerEvent, delivered bool) storage.AlertHistoryRecord {
	obs := ev.Observation
	rec := storage.AlertHistoryRecord{
		RuleID:       ev.Rule.ID,
		ICAOHex:      obs.ICAOHex,
		Callsign:     obs.TrimmedCallsign(),
		AircraftType: obs.AircraftType,
		Squawk:       obs.Squawk,
		Lat:          obs.Lat,
		Lon:          obs.Lon,
		TriggeredAt:  ev.TriggeredAt,
		SentPush:     delivered,
	}
	if alt, ok := obs.AltitudeFt(); ok {
		rec.Altitude = &alt
	}
	return rec
}
