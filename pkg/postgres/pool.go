// Package postgres provides PostgreSQL connection pooling and query helpers
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cuas/core/pkg/messages"
)

// Pool wraps pgxpool.Pool with domain-specific query methods
type Pool struct {
	*pgxpool.Pool
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool settings
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	HealthCheck time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Host:        "localhost",
		Port:        5432,
		Database:    "cuas",
		User:        "cuas",
		Password:    "cuas",
		SSLMode:     "disable",
		MaxConns:    25,
		MinConns:    5,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
		HealthCheck: time.Minute,
	}
}

// ConnectionString builds a PostgreSQL connection string
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLife
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdle
	poolCfg.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// NewPoolFromURL creates a pool from a connection URL
func NewPoolFromURL(ctx context.Context, url string) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// TrackRow represents a track snapshot stored in the database
type TrackRow struct {
	TrackID        string          `json:"track_id"`
	State          string          `json:"state"`
	Classification string          `json:"classification"`
	ThreatLevel    int             `json:"threat_level"`
	Engaged        bool            `json:"engaged"`
	Position       json.RawMessage `json:"position"`
	Velocity       json.RawMessage `json:"velocity"`
	Sources        []string        `json:"sources"`
	FirstSeen      time.Time       `json:"first_seen"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// TrackFilter defines filter options for track queries
type TrackFilter struct {
	Classification string
	ThreatLevel    int
	State          string
	Since          *time.Time
	Limit          int
	Offset         int
}

// ListTracks retrieves tracks with optional filtering
func (p *Pool) ListTracks(ctx context.Context, filter TrackFilter) ([]TrackRow, error) {
	query := `
		SELECT
			track_id, state, classification, threat_level, engaged,
			position_lat, position_lon, position_alt,
			velocity_speed, velocity_heading,
			sources, first_seen, last_updated
		FROM tracks
		WHERE state != 'Dropped'
	`
	args := []interface{}{}
	argNum := 1

	if filter.Classification != "" {
		query += fmt.Sprintf(" AND classification = $%d", argNum)
		args = append(args, filter.Classification)
		argNum++
	}

	if filter.ThreatLevel > 0 {
		query += fmt.Sprintf(" AND threat_level = $%d", argNum)
		args = append(args, filter.ThreatLevel)
		argNum++
	}

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argNum)
		args = append(args, filter.State)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND last_updated >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	query += " ORDER BY threat_level DESC, last_updated DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []TrackRow
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracks: %w", err)
	}

	return tracks, nil
}

// rowScanner is the subset of pgx.Rows/pgx.Row this package scans from.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrack(row rowScanner) (TrackRow, error) {
	var t TrackRow
	var posLat, posLon, posAlt, velSpeed, velHeading float64

	err := row.Scan(
		&t.TrackID, &t.State, &t.Classification, &t.ThreatLevel, &t.Engaged,
		&posLat, &posLon, &posAlt,
		&velSpeed, &velHeading,
		&t.Sources, &t.FirstSeen, &t.LastUpdated,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan track: %w", err)
	}

	t.Position, _ = json.Marshal(map[string]float64{"lat": posLat, "lon": posLon, "alt": posAlt})
	t.Velocity, _ = json.Marshal(map[string]float64{"speed": velSpeed, "heading": velHeading})

	return t, nil
}

// GetTrack retrieves a single track by id
func (p *Pool) GetTrack(ctx context.Context, trackID string) (*TrackRow, error) {
	query := `
		SELECT
			track_id, state, classification, threat_level, engaged,
			position_lat, position_lon, position_alt,
			velocity_speed, velocity_heading,
			sources, first_seen, last_updated
		FROM tracks
		WHERE track_id = $1
	`

	t, err := scanTrack(p.QueryRow(ctx, query, trackID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertTrack inserts or updates a track from a TrackMessage snapshot
func (p *Pool) UpsertTrack(ctx context.Context, track *messages.TrackMessage) error {
	query := `
		INSERT INTO tracks (
			track_id, state, classification, threat_level, engaged,
			position_lat, position_lon, position_alt,
			velocity_speed, velocity_heading,
			sources, first_seen, last_updated
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12, $13
		)
		ON CONFLICT (track_id) DO UPDATE SET
			state = EXCLUDED.state,
			classification = EXCLUDED.classification,
			threat_level = EXCLUDED.threat_level,
			engaged = EXCLUDED.engaged,
			position_lat = EXCLUDED.position_lat,
			position_lon = EXCLUDED.position_lon,
			position_alt = EXCLUDED.position_alt,
			velocity_speed = EXCLUDED.velocity_speed,
			velocity_heading = EXCLUDED.velocity_heading,
			sources = EXCLUDED.sources,
			last_updated = EXCLUDED.last_updated
	`

	firstSeen := track.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = track.LastUpdated
	}

	_, err := p.Exec(ctx, query,
		track.TrackID,
		track.State,
		track.Classification,
		track.ThreatLevel,
		track.Engaged,
		track.Position.Lat,
		track.Position.Lon,
		track.Position.Alt,
		track.Velocity.Speed,
		track.Velocity.Heading,
		track.Sources,
		firstSeen,
		track.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert track: %w", err)
	}

	return nil
}

// DropTrack marks a track as dropped rather than deleting it, preserving its
// row for audit and history queries.
func (p *Pool) DropTrack(ctx context.Context, trackID string, at time.Time) error {
	_, err := p.Exec(ctx, "UPDATE tracks SET state = 'Dropped', last_updated = $2 WHERE track_id = $1", trackID, at)
	if err != nil {
		return fmt.Errorf("failed to drop track: %w", err)
	}
	return nil
}

// ProposalRow represents an engagement proposal stored in the database
type ProposalRow struct {
	EngagementID   string          `json:"engagement_id"`
	TrackID        string          `json:"track_id"`
	EffectorID     string          `json:"effector_id"`
	EffectorFamily string          `json:"effector_family"`
	TargetPosition json.RawMessage `json:"target_position"`
	Distance       float64         `json:"distance_m"`
	ThreatLevel    int             `json:"threat_level"`
	Classification string          `json:"classification"`
	Reason         string          `json:"reason"`
	PolicyDecision json.RawMessage `json:"policy_decision"`
	RequestedAt    time.Time       `json:"requested_at"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	Status         string          `json:"status"`
	CorrelationID  string          `json:"correlation_id"`
}

// ProposalFilter defines filter options for proposal queries
type ProposalFilter struct {
	Status         string
	TrackID        string
	EffectorFamily string
	Limit          int
	Offset         int
}

// ListProposals retrieves engagement proposals with optional filtering
func (p *Pool) ListProposals(ctx context.Context, filter ProposalFilter) ([]ProposalRow, error) {
	query := `
		SELECT
			engagement_id, track_id, effector_id, effector_family,
			target_position, distance_m, threat_level, classification,
			reason, policy_decision, requested_at, timeout_seconds,
			status, correlation_id
		FROM engagement_proposals
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filter.Status)
		argNum++
	}

	if filter.TrackID != "" {
		query += fmt.Sprintf(" AND track_id = $%d", argNum)
		args = append(args, filter.TrackID)
		argNum++
	}

	if filter.EffectorFamily != "" {
		query += fmt.Sprintf(" AND effector_family = $%d", argNum)
		args = append(args, filter.EffectorFamily)
		argNum++
	}

	query += " ORDER BY threat_level DESC, requested_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []ProposalRow
	for rows.Next() {
		pr, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proposals: %w", err)
	}

	return proposals, nil
}

func scanProposal(row rowScanner) (ProposalRow, error) {
	var pr ProposalRow
	err := row.Scan(
		&pr.EngagementID, &pr.TrackID, &pr.EffectorID, &pr.EffectorFamily,
		&pr.TargetPosition, &pr.Distance, &pr.ThreatLevel, &pr.Classification,
		&pr.Reason, &pr.PolicyDecision, &pr.RequestedAt, &pr.TimeoutSeconds,
		&pr.Status, &pr.CorrelationID,
	)
	if err != nil {
		return pr, fmt.Errorf("failed to scan proposal: %w", err)
	}
	return pr, nil
}

// GetProposal retrieves a single engagement proposal by id
func (p *Pool) GetProposal(ctx context.Context, engagementID string) (*ProposalRow, error) {
	query := `
		SELECT
			engagement_id, track_id, effector_id, effector_family,
			target_position, distance_m, threat_level, classification,
			reason, policy_decision, requested_at, timeout_seconds,
			status, correlation_id
		FROM engagement_proposals
		WHERE engagement_id = $1
	`

	pr, err := scanProposal(p.QueryRow(ctx, query, engagementID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// DecisionRow represents a decision stored in the database
type DecisionRow struct {
	DecisionID   string    `json:"decision_id"`
	EngagementID string    `json:"engagement_id"`
	TrackID      string    `json:"track_id"`
	EffectorID   string    `json:"effector_id"`
	Approved     bool      `json:"approved"`
	ApprovedBy   string    `json:"approved_by"`
	DecidedAt    time.Time `json:"decided_at"`
	Reason       string    `json:"reason"`
}

// DecisionFilter defines filter options for decision queries
type DecisionFilter struct {
	EngagementID string
	TrackID      string
	Approved     *bool
	ApprovedBy   string
	Since        *time.Time
	Limit        int
	Offset       int
}

// ListDecisions retrieves decisions with optional filtering
func (p *Pool) ListDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRow, error) {
	query := `
		SELECT decision_id, engagement_id, track_id, effector_id, approved, approved_by, decided_at, reason
		FROM decisions
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.EngagementID != "" {
		query += fmt.Sprintf(" AND engagement_id = $%d", argNum)
		args = append(args, filter.EngagementID)
		argNum++
	}

	if filter.TrackID != "" {
		query += fmt.Sprintf(" AND track_id = $%d", argNum)
		args = append(args, filter.TrackID)
		argNum++
	}

	if filter.Approved != nil {
		query += fmt.Sprintf(" AND approved = $%d", argNum)
		args = append(args, *filter.Approved)
		argNum++
	}

	if filter.ApprovedBy != "" {
		query += fmt.Sprintf(" AND approved_by = $%d", argNum)
		args = append(args, filter.ApprovedBy)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND decided_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	query += " ORDER BY decided_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []DecisionRow
	for rows.Next() {
		var d DecisionRow
		var reason *string
		err := rows.Scan(
			&d.DecisionID, &d.EngagementID, &d.TrackID, &d.EffectorID,
			&d.Approved, &d.ApprovedBy, &d.DecidedAt, &reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		if reason != nil {
			d.Reason = *reason
		}
		decisions = append(decisions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, nil
}

// InsertDecision inserts a new decision
func (p *Pool) InsertDecision(ctx context.Context, decision *messages.Decision) error {
	query := `
		INSERT INTO decisions (
			decision_id, engagement_id, approved, approved_by, decided_at, reason, track_id, effector_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := p.Exec(ctx, query,
		decision.DecisionID, decision.EngagementID, decision.Approved, decision.ApprovedBy,
		decision.DecidedAt, decision.Reason, decision.TrackID, decision.EffectorID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	return nil
}

// UpdateProposalStatus updates an engagement proposal's status
func (p *Pool) UpdateProposalStatus(ctx context.Context, engagementID, status string) error {
	_, err := p.Exec(ctx, "UPDATE engagement_proposals SET status = $2 WHERE engagement_id = $1", engagementID, status)
	if err != nil {
		return fmt.Errorf("failed to update proposal status: %w", err)
	}
	return nil
}

// EffectRow represents an effect log stored in the database
type EffectRow struct {
	EffectID      string    `json:"effect_id"`
	EngagementID  string    `json:"engagement_id"`
	TrackID       string    `json:"track_id"`
	EffectorID    string    `json:"effector_id"`
	FinalState    string    `json:"final_state"`
	BDAResult     string    `json:"bda_result"`
	ExecutedAt    time.Time `json:"executed_at"`
	CompletedAt   time.Time `json:"completed_at"`
	IdempotentKey string    `json:"idempotent_key"`
	Notes         string    `json:"notes"`
}

// EffectFilter defines filter options for effect queries
type EffectFilter struct {
	EngagementID string
	TrackID      string
	FinalState   string
	Since        *time.Time
	Limit        int
	Offset       int
}

// ListEffects retrieves effect logs with optional filtering
func (p *Pool) ListEffects(ctx context.Context, filter EffectFilter) ([]EffectRow, error) {
	query := `
		SELECT effect_id, engagement_id, track_id, effector_id, final_state, bda_result,
		       executed_at, completed_at, idempotent_key, notes
		FROM effects
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.EngagementID != "" {
		query += fmt.Sprintf(" AND engagement_id = $%d", argNum)
		args = append(args, filter.EngagementID)
		argNum++
	}

	if filter.TrackID != "" {
		query += fmt.Sprintf(" AND track_id = $%d", argNum)
		args = append(args, filter.TrackID)
		argNum++
	}

	if filter.FinalState != "" {
		query += fmt.Sprintf(" AND final_state = $%d", argNum)
		args = append(args, filter.FinalState)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	query += " ORDER BY executed_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query effects: %w", err)
	}
	defer rows.Close()

	var effects []EffectRow
	for rows.Next() {
		var e EffectRow
		var notes *string
		err := rows.Scan(
			&e.EffectID, &e.EngagementID, &e.TrackID, &e.EffectorID, &e.FinalState, &e.BDAResult,
			&e.ExecutedAt, &e.CompletedAt, &e.IdempotentKey, &notes,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan effect: %w", err)
		}
		if notes != nil {
			e.Notes = *notes
		}
		effects = append(effects, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating effects: %w", err)
	}

	return effects, nil
}

// InsertEffect persists an EffectLog, deduplicating on idempotent_key so a
// NATS redelivery of the same effect never produces a second row.
func (p *Pool) InsertEffect(ctx context.Context, effect *messages.EffectLog) error {
	query := `
		INSERT INTO effects (
			effect_id, engagement_id, track_id, effector_id, final_state, bda_result,
			executed_at, completed_at, idempotent_key, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotent_key) DO NOTHING
	`
	_, err := p.Exec(ctx, query,
		effect.EffectID, effect.EngagementID, effect.TrackID, effect.EffectorID,
		effect.FinalState, effect.BDAResult, effect.ExecutedAt, effect.CompletedAt,
		effect.IdempotentKey, effect.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert effect: %w", err)
	}
	return nil
}

// AlertRow represents a threat alert stored in the database
type AlertRow struct {
	AlertID     string    `json:"alert_id"`
	TrackID     string    `json:"track_id"`
	Severity    string    `json:"severity"`
	ThreatLevel int       `json:"threat_level"`
	Reason      string    `json:"reason"`
	AssetID     string    `json:"asset_id"`
	RaisedAt    time.Time `json:"raised_at"`
}

// AlertFilter defines filter options for alert queries
type AlertFilter struct {
	TrackID  string
	Severity string
	Since    *time.Time
	Limit    int
	Offset   int
}

// InsertAlert persists a threat alert
func (p *Pool) InsertAlert(ctx context.Context, alert *messages.AlertMessage) error {
	query := `
		INSERT INTO alerts (alert_id, track_id, severity, threat_level, reason, asset_id, raised_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_id) DO NOTHING
	`
	_, err := p.Exec(ctx, query,
		alert.AlertID, alert.TrackID, alert.Severity, alert.ThreatLevel,
		alert.Reason, alert.AssetID, alert.RaisedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// ListAlerts retrieves alerts with optional filtering
func (p *Pool) ListAlerts(ctx context.Context, filter AlertFilter) ([]AlertRow, error) {
	query := `
		SELECT alert_id, track_id, severity, threat_level, reason, asset_id, raised_at
		FROM alerts
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.TrackID != "" {
		query += fmt.Sprintf(" AND track_id = $%d", argNum)
		args = append(args, filter.TrackID)
		argNum++
	}

	if filter.Severity != "" {
		query += fmt.Sprintf(" AND severity = $%d", argNum)
		args = append(args, filter.Severity)
		argNum++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND raised_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}

	query += " ORDER BY raised_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AlertRow
	for rows.Next() {
		var a AlertRow
		var assetID *string
		err := rows.Scan(&a.AlertID, &a.TrackID, &a.Severity, &a.ThreatLevel, &a.Reason, &assetID, &a.RaisedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if assetID != nil {
			a.AssetID = *assetID
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}

// RealTimeStageMetrics represents metrics for a stage calculated from actual data
type RealTimeStageMetrics struct {
	Stage       string
	Processed   int64
	Succeeded   int64
	Failed      int64
	LatencyP50  float64
	LatencyP95  float64
	LatencyP99  float64
	LastUpdated time.Time
}

// GetRealTimeStageMetrics calculates per-stage throughput from actual table
// data for four stages: sensor, engagement, authorizer, effector.
func (p *Pool) GetRealTimeStageMetrics(ctx context.Context) ([]RealTimeStageMetrics, error) {
	stages := []RealTimeStageMetrics{}

	var trackCount int64
	var trackLastUpdated time.Time
	err := p.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MAX(last_updated), NOW())
		FROM tracks
		WHERE last_updated >= NOW() - INTERVAL '5 minutes'
	`).Scan(&trackCount, &trackLastUpdated)
	if err != nil {
		trackCount = 0
		trackLastUpdated = time.Now()
	}

	sensor := RealTimeStageMetrics{
		Stage: "sensor", Processed: trackCount, Succeeded: trackCount, LastUpdated: trackLastUpdated,
	}
	stages = append(stages, sensor)

	var proposalCount int64
	var proposalLastUpdated time.Time
	err = p.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(MAX(requested_at), NOW())
		FROM engagement_proposals
		WHERE requested_at >= NOW() - INTERVAL '5 minutes'
	`).Scan(&proposalCount, &proposalLastUpdated)
	if err != nil {
		proposalCount = 0
		proposalLastUpdated = time.Now()
	}

	engagement := RealTimeStageMetrics{
		Stage: "engagement", Processed: trackCount, Succeeded: proposalCount, LastUpdated: proposalLastUpdated,
	}
	stages = append(stages, engagement)

	var authSucceeded, authFailed int64
	var authLastUpdated time.Time
	var authP50, authP95, authP99 float64
	err = p.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('denied', 'expired') THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(requested_at), NOW())
		FROM engagement_proposals
		WHERE requested_at >= NOW() - INTERVAL '5 minutes'
	`).Scan(&authSucceeded, &authFailed, &authLastUpdated)
	if err != nil {
		authSucceeded, authFailed = 0, 0
		authLastUpdated = time.Now()
	}

	err = p.QueryRow(ctx, `
		SELECT
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY latency_ms), 0)
		FROM (
			SELECT EXTRACT(EPOCH FROM (d.decided_at - p.requested_at)) * 1000 as latency_ms
			FROM decisions d
			JOIN engagement_proposals p ON d.engagement_id = p.engagement_id
			WHERE d.decided_at >= NOW() - INTERVAL '5 minutes'
		) latencies
	`).Scan(&authP50, &authP95, &authP99)
	if err != nil {
		authP50, authP95, authP99 = 0, 0, 0
	}

	authorizer := RealTimeStageMetrics{
		Stage:       "authorizer",
		Processed:   proposalCount,
		Succeeded:   authSucceeded,
		Failed:      authFailed,
		LatencyP50:  authP50,
		LatencyP95:  authP95,
		LatencyP99:  authP99,
		LastUpdated: authLastUpdated,
	}
	stages = append(stages, authorizer)

	var effProcessed, effSucceeded, effFailed int64
	var effLastUpdated time.Time
	err = p.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN final_state = 'Completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN final_state = 'Failed' THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(executed_at), NOW())
		FROM effects
		WHERE executed_at >= NOW() - INTERVAL '5 minutes'
	`).Scan(&effProcessed, &effSucceeded, &effFailed, &effLastUpdated)
	if err != nil {
		effProcessed, effSucceeded, effFailed = 0, 0, 0
		effLastUpdated = time.Now()
	}

	effector := RealTimeStageMetrics{
		Stage:       "effector",
		Processed:   authSucceeded,
		Succeeded:   effSucceeded,
		Failed:      effFailed,
		LastUpdated: effLastUpdated,
	}
	stages = append(stages, effector)

	return stages, nil
}

// GetLatencyMetrics retrieves end-to-end latency metrics (proposal -> effect)
func (p *Pool) GetLatencyMetrics(ctx context.Context, window string) (*LatencyMetrics, error) {
	if window == "" {
		window = "1h"
	}

	intervalMap := map[string]string{
		"1m": "1 minute", "5m": "5 minutes", "15m": "15 minutes",
		"1h": "1 hour", "6h": "6 hours", "24h": "24 hours",
	}
	interval, ok := intervalMap[window]
	if !ok {
		interval = "1 hour"
	}

	query := fmt.Sprintf(`
		SELECT
			COALESCE(AVG(latency_ms), 0), COALESCE(MIN(latency_ms), 0), COALESCE(MAX(latency_ms), 0),
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY latency_ms), 0),
			COUNT(*)
		FROM (
			SELECT EXTRACT(EPOCH FROM (e.executed_at - p.requested_at)) * 1000 as latency_ms
			FROM effects e
			JOIN engagement_proposals p ON e.engagement_id = p.engagement_id
			WHERE e.executed_at >= NOW() - INTERVAL '%s'
		) latencies
	`, interval)

	var m LatencyMetrics
	err := p.QueryRow(ctx, query).Scan(
		&m.AvgLatencyMs, &m.MinLatencyMs, &m.MaxLatencyMs,
		&m.P50LatencyMs, &m.P95LatencyMs, &m.P99LatencyMs, &m.SampleCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get latency metrics: %w", err)
	}

	m.Window = window
	m.CalculatedAt = time.Now().UTC()

	return &m, nil
}

// LatencyMetrics represents end-to-end latency metrics
type LatencyMetrics struct {
	Window       string    `json:"window"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	MinLatencyMs float64   `json:"min_latency_ms"`
	MaxLatencyMs float64   `json:"max_latency_ms"`
	P50LatencyMs float64   `json:"p50_latency_ms"`
	P95LatencyMs float64   `json:"p95_latency_ms"`
	P99LatencyMs float64   `json:"p99_latency_ms"`
	SampleCount  int64     `json:"sample_count"`
	CalculatedAt time.Time `json:"calculated_at"`
}

// GetMessagesPerMinute estimates current track-update throughput
func (p *Pool) GetMessagesPerMinute(ctx context.Context) (float64, error) {
	var count int64
	err := p.QueryRow(ctx, `
		SELECT COUNT(*) FROM tracks WHERE last_updated >= NOW() - INTERVAL '1 minute'
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get messages per minute: %w", err)
	}
	return float64(count), nil
}

// GetEndToEndLatencyMetrics returns real-time E2E latency percentiles,
// falling back to track processing latency when no effects exist yet.
func (p *Pool) GetEndToEndLatencyMetrics(ctx context.Context) (p50, p95, p99 float64, err error) {
	query := `
		SELECT
			COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY latency_ms), 0),
			COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY latency_ms), 0)
		FROM (
			SELECT EXTRACT(EPOCH FROM (e.executed_at - p.requested_at)) * 1000 as latency_ms
			FROM effects e
			JOIN engagement_proposals p ON e.engagement_id = p.engagement_id
			WHERE e.executed_at >= NOW() - INTERVAL '5 minutes'
		) latencies
	`
	err = p.QueryRow(ctx, query).Scan(&p50, &p95, &p99)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to get E2E latency: %w", err)
	}

	if p50 == 0 && p95 == 0 && p99 == 0 {
		trackQuery := `
			SELECT
				COALESCE(PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY latency_ms), 0),
				COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY latency_ms), 0),
				COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY latency_ms), 0)
			FROM (
				SELECT EXTRACT(EPOCH FROM (last_updated - first_seen)) * 1000 as latency_ms
				FROM tracks
				WHERE last_updated >= NOW() - INTERVAL '5 minutes' AND last_updated > first_seen
			) latencies
		`
		err = p.QueryRow(ctx, trackQuery).Scan(&p50, &p95, &p99)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("failed to get track processing latency: %w", err)
		}
	}

	return p50, p95, p99, nil
}

// AuditEntry represents an audit trail entry for the operator UI
type AuditEntry struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	TrackID      string `json:"track_id"`
	EngagementID string `json:"engagement_id"`
	DecisionID   string `json:"decision_id"`
	EffectID     string `json:"effect_id"`
	ApprovedBy   string `json:"approved_by"`
	Status       string `json:"status"`
	Details      string `json:"details"`
}

// AuditFilter defines filter options for audit queries
type AuditFilter struct {
	ApprovedBy string
	TrackID    string
	Limit      int
	Offset     int
}

// ListAuditEntries retrieves audit entries joining the decision -> proposal
// -> effect chain for every engagement that reached a human decision.
func (p *Pool) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	query := `
		SELECT
			d.decision_id, d.approved, d.approved_by, d.decided_at, d.reason,
			p.engagement_id, p.track_id, p.reason as proposal_reason,
			e.effect_id, e.final_state, e.executed_at
		FROM decisions d
		JOIN engagement_proposals p ON d.engagement_id = p.engagement_id
		LEFT JOIN effects e ON d.engagement_id = e.engagement_id
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.ApprovedBy != "" {
		query += fmt.Sprintf(" AND d.approved_by = $%d", argNum)
		args = append(args, filter.ApprovedBy)
		argNum++
	}

	if filter.TrackID != "" {
		query += fmt.Sprintf(" AND p.track_id = $%d", argNum)
		args = append(args, filter.TrackID)
		argNum++
	}

	query += " ORDER BY d.decided_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			decisionID, approvedBy, engagementID, trackID string
			approved                                       bool
			decidedAt                                      time.Time
			reason, proposalReason                         *string
			effectID, finalState                           *string
			executedAt                                     *time.Time
		)

		err := rows.Scan(
			&decisionID, &approved, &approvedBy, &decidedAt, &reason,
			&engagementID, &trackID, &proposalReason,
			&effectID, &finalState, &executedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		status := "denied"
		if approved {
			status = "approved"
			if finalState != nil {
				status = *finalState
			}
		}

		details := ""
		if proposalReason != nil {
			details = *proposalReason
		}
		if reason != nil && *reason != "" {
			details = *reason
		}

		entry := AuditEntry{
			ID:           decisionID,
			Timestamp:    decidedAt.Format(time.RFC3339),
			TrackID:      trackID,
			EngagementID: engagementID,
			DecisionID:   decisionID,
			ApprovedBy:   approvedBy,
			Status:       status,
			Details:      details,
		}
		if effectID != nil {
			entry.EffectID = *effectID
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// CountActiveTracks returns the count of non-dropped tracks
func (p *Pool) CountActiveTracks(ctx context.Context) (int64, error) {
	var count int64
	err := p.QueryRow(ctx, "SELECT COUNT(*) FROM tracks WHERE state != 'Dropped'").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active tracks: %w", err)
	}
	return count, nil
}

// CountPendingProposals returns the count of engagement proposals still
// awaiting a decision
func (p *Pool) CountPendingProposals(ctx context.Context) (int64, error) {
	var count int64
	err := p.QueryRow(ctx, "SELECT COUNT(*) FROM engagement_proposals WHERE status = 'pending'").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending proposals: %w", err)
	}
	return count, nil
}

// IncrementCounter atomically increments a named counter and returns the new value
func (p *Pool) IncrementCounter(ctx context.Context, counterName string, increment int64) (int64, error) {
	var newValue int64
	err := p.QueryRow(ctx, `SELECT increment_counter($1, $2)`, counterName, increment).Scan(&newValue)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", counterName, err)
	}
	return newValue, nil
}

// GetCounter returns the current value of a named counter
func (p *Pool) GetCounter(ctx context.Context, counterName string) (int64, error) {
	var value int64
	err := p.QueryRow(ctx, `SELECT counter_value FROM system_counters WHERE counter_name = $1`, counterName).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("get counter %s: %w", counterName, err)
	}
	return value, nil
}

// ClearAllResult contains the counts of deleted records per table
type ClearAllResult struct {
	Effects   int64
	Decisions int64
	Proposals int64
	Alerts    int64
	Tracks    int64
}

// ClearAll deletes all data from the database tables in the correct order
// to respect foreign key constraints. Uses a transaction for atomicity.
func (p *Pool) ClearAll(ctx context.Context) (*ClearAllResult, error) {
	tx, err := p.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result := &ClearAllResult{}
	var tag pgconn.CommandTag

	tag, err = tx.Exec(ctx, "DELETE FROM effects")
	if err != nil {
		return nil, fmt.Errorf("failed to delete from effects: %w", err)
	}
	result.Effects = tag.RowsAffected()

	tag, err = tx.Exec(ctx, "DELETE FROM decisions")
	if err != nil {
		return nil, fmt.Errorf("failed to delete from decisions: %w", err)
	}
	result.Decisions = tag.RowsAffected()

	tag, err = tx.Exec(ctx, "DELETE FROM engagement_proposals")
	if err != nil {
		return nil, fmt.Errorf("failed to delete from engagement_proposals: %w", err)
	}
	result.Proposals = tag.RowsAffected()

	tag, err = tx.Exec(ctx, "DELETE FROM alerts")
	if err != nil {
		return nil, fmt.Errorf("failed to delete from alerts: %w", err)
	}
	result.Alerts = tag.RowsAffected()

	tag, err = tx.Exec(ctx, "DELETE FROM tracks")
	if err != nil {
		return nil, fmt.Errorf("failed to delete from tracks: %w", err)
	}
	result.Tracks = tag.RowsAffected()

	_, err = tx.Exec(ctx, "UPDATE system_counters SET counter_value = 0, last_updated = NOW() WHERE counter_name = 'messages_processed'")
	if err != nil {
		return nil, fmt.Errorf("failed to reset messages_processed counter: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// Health checks if the database connection is healthy
func (p *Pool) Health(ctx context.Context) error {
	return p.Ping(ctx)
}
