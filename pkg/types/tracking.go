package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TrackingEvent is a single scan reported by the carrier.
type TrackingEvent struct {
	Status     string    `json:"status"`
	Activity   string    `json:"activity,omitempty"`
	Location   string    `json:"location,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// TrackingEvents is the ordered scan history stored on a shipment.
type TrackingEvents []TrackingEvent

// Merge appends events that are not already present, keyed by status,
// activity and timestamp. The receiver is not modified.
func (t TrackingEvents) Merge(incoming ...TrackingEvent) TrackingEvents {
	out := make(TrackingEvents, 0, len(t)+len(incoming))
	seen := make(map[string]struct{}, len(t)+len(incoming))
	key := func(e TrackingEvent) string {
		return e.Status + "|" + e.Activity + "|" + e.OccurredAt.UTC().Format(time.RFC3339)
	}
	for _, e := range t {
		k := key(e)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	for _, e := range incoming {
		k := key(e)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

func (t TrackingEvents) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]TrackingEvent(t))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (t *TrackingEvents) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("tracking events: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*t = nil
		return nil
	}
	var events []TrackingEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return fmt.Errorf("tracking events: %w", err)
	}
	*t = events
	return nil
}
