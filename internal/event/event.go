// Package event defines the telemetry event payload carried through the spool.
package event

// Event is one outbound telemetry event: a name plus opaque properties.
// The spool passes events through to the transport without inspecting them;
// only Name is examined, to recognize the connectivity probe.
type Event struct {
	Name       string                 `json:"name"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// SentinelName is the reserved event name used for connectivity probes.
// Events carrying this name are sent only to test transport health and are
// never persisted in the queue.
const SentinelName = "eventspool.connectivity_check"

// Sentinel returns the synthetic probe event.
func Sentinel() Event {
	return Event{Name: SentinelName}
}

// IsSentinel reports whether ev is a connectivity probe.
func IsSentinel(ev Event) bool {
	return ev.Name == SentinelName
}
