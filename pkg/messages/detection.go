package messages

import "time"

// Detection represents a raw sensor detection event, arriving over the
// DETECTIONS JetStream stream before it reaches the Track Manager.
type Detection struct {
	Envelope Envelope `json:"envelope"`

	// Detection data
	TrackID    string   `json:"track_id,omitempty"` // Sensor-local id, if the sensor tracks one
	Position   Position `json:"position"`           // Geographic position
	Velocity   Velocity `json:"velocity"`            // Speed and heading
	Confidence float64  `json:"confidence"`          // Detection confidence 0.0-1.0
	SensorType string   `json:"sensor_type"`         // radar, rf, camera
	SensorID   string   `json:"sensor_id"`           // Sensor that made detection
	RawData    []byte   `json:"raw_data,omitempty"`
}

func (d *Detection) GetEnvelope() Envelope {
	return d.Envelope
}

func (d *Detection) SetEnvelope(e Envelope) {
	d.Envelope = e
}

func (d *Detection) Subject() string {
	return "detect." + d.SensorID + "." + d.SensorType
}

// NewDetection creates a new detection message.
func NewDetection(sensorID, sensorType string) *Detection {
	return &Detection{
		Envelope:   NewEnvelope(sensorID, "sensor"),
		SensorID:   sensorID,
		SensorType: sensorType,
	}
}

// TrackMessage mirrors a pkg/track.Track snapshot for publication on the
// TRACKS stream. One is published for every track lifecycle event named in
// the event egress list: track_created, track_updated, track_dropped,
// track_state_changed, track_classification_changed,
// track_threat_level_changed, high_threat_detected.
type TrackMessage struct {
	Envelope Envelope `json:"envelope"`

	EventType string `json:"event_type"`

	TrackID        string   `json:"track_id"`
	State          string   `json:"state"`          // Initiated, Active, Coasting, Dropped
	Classification string   `json:"classification"` // Pending, Unknown, Friendly, Neutral, Hostile
	Position       Position `json:"position"`
	Velocity       Velocity `json:"velocity"`
	ThreatLevel    int      `json:"threat_level"`
	Engaged        bool     `json:"engaged"`
	Sources        []string `json:"sources"`

	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

func (t *TrackMessage) GetEnvelope() Envelope {
	return t.Envelope
}

func (t *TrackMessage) SetEnvelope(e Envelope) {
	t.Envelope = e
}

func (t *TrackMessage) Subject() string {
	return "track." + t.EventType + "." + t.TrackID
}

// NewTrackMessage creates a track lifecycle message published by the fusion
// agent wrapping the Track Manager.
func NewTrackMessage(fusionID, eventType string) *TrackMessage {
	return &TrackMessage{
		Envelope:  NewEnvelope(fusionID, "fusion"),
		EventType: eventType,
	}
}

// AlertMessage mirrors a pkg/threat.Alert for publication on the ALERTS
// stream, raised on an upward threat-level transition or a defended-asset
// radius breach.
type AlertMessage struct {
	Envelope Envelope `json:"envelope"`

	AlertID     string   `json:"alert_id"`
	TrackID     string   `json:"track_id"`
	Severity    string   `json:"severity"` // Info, Warn, Critical
	ThreatLevel int      `json:"threat_level"`
	Reason      string   `json:"reason"`
	Position    Position `json:"position"`
	AssetID     string   `json:"asset_id,omitempty"`

	RaisedAt time.Time `json:"raised_at"`
}

func (a *AlertMessage) GetEnvelope() Envelope {
	return a.Envelope
}

func (a *AlertMessage) SetEnvelope(e Envelope) {
	a.Envelope = e
}

func (a *AlertMessage) Subject() string {
	return "alert." + a.Severity + "." + a.TrackID
}

// NewAlertMessage creates a new alert message published by the threat agent
// wrapping the Threat Assessor.
func NewAlertMessage(threatAgentID string) *AlertMessage {
	return &AlertMessage{
		Envelope: NewEnvelope(threatAgentID, "threat"),
		RaisedAt: time.Now().UTC(),
	}
}
