package consumer

import (
	"encoding/json"
	"fmt"

	rediscommon "contact-aggregator/common/redis"
)

// Package lifecycle events that can change which handlers are installed.
const (
	EventPackageAdded    = "package.added"
	EventPackageRemoved  = "package.removed"
	EventPackageChanged  = "package.changed"
	EventPackageReplaced = "package.replaced"
)

// PackageEvent reports a change to an installed package.
type PackageEvent struct {
	EventType string `json:"event_type"`
	Package   string `json:"package"`
	Timestamp int64  `json:"timestamp"`
}

// Invalidates reports whether the event can change handler resolution or
// declared contact schemas.
func (e *PackageEvent) Invalidates() bool {
	switch e.EventType {
	case EventPackageAdded, EventPackageRemoved, EventPackageChanged, EventPackageReplaced:
		return true
	}
	return false
}

// ParsePayload decodes a JSON event.
func ParsePayload(payload []byte) (*PackageEvent, error) {
	var event PackageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if event.EventType == "" {
		return nil, fmt.Errorf("invalid event: missing event_type")
	}
	return &event, nil
}

// parseEvent reads an event from a stream message, either from a JSON "data"
// field or from flat fields.
func parseEvent(msg rediscommon.StreamMessage) (*PackageEvent, error) {
	if data, ok := msg.Field("data"); ok {
		if event, err := ParsePayload([]byte(data)); err == nil {
			return event, nil
		}
	}

	event := &PackageEvent{}
	event.EventType, _ = msg.Field("event_type")
	event.Package, _ = msg.Field("package")
	if event.EventType == "" {
		return nil, fmt.Errorf("invalid event: missing event_type")
	}
	return event, nil
}
