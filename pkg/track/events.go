package track

// EventType names one of the typed events the manager emits.
type EventType string

const (
	EventTrackCreated               EventType = "track_created"
	EventTrackUpdated               EventType = "track_updated"
	EventTrackDropped               EventType = "track_dropped"
	EventTrackStateChanged          EventType = "track_state_changed"
	EventTrackClassificationChanged EventType = "track_classification_changed"
	EventTrackThreatLevelChanged    EventType = "track_threat_level_changed"
	EventHighThreatDetected         EventType = "high_threat_detected"
)

// Event is emitted after the manager's lock is released, never under it, so
// subscriber callbacks can never re-enter a manager method while it holds
// the track table lock.
type Event struct {
	Type           EventType
	TrackID        string
	State          State
	Classification Classification
	ThreatLevel    int
}

// Sink receives track events. Implementations must not block for long and
// must never call back into the Manager synchronously.
type Sink func(Event)
