package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"velocity/pkg/models"
)

// Store persists incidents and escalation events in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool and verifies connectivity.
func NewStore(databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing pool (used by tests).
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const incidentColumns = `id, incident_key, route, kind, status, severity, first_seen, last_seen,
	 escalation_level, escalated_at, acknowledged_at, acknowledged_by, owner, metadata`

// RecordAlarm upserts the incident for an alarm's route::kind key. The
// read-then-write runs in one transaction with a row lock so concurrent
// alarms for the same key serialize instead of racing to create duplicate
// rows. On first sight a new open incident is inserted; afterwards
// last_seen advances, severity is raised to critical when either side is
// critical (never lowered), and lastEvidence/lastHint are overwritten.
//
// FOR UPDATE only serializes writers once the row exists. When two
// processes race to insert the first row, the unique open-key index
// rejects the loser; that loser retries and lands on the refresh path.
func (s *Store) RecordAlarm(ctx context.Context, alarm models.Alarm, now time.Time) (*models.Incident, error) {
	inc, err := s.recordAlarm(ctx, alarm, now)
	if err != nil && isUniqueViolation(err) {
		return s.recordAlarm(ctx, alarm, now)
	}
	return inc, err
}

func (s *Store) recordAlarm(ctx context.Context, alarm models.Alarm, now time.Time) (*models.Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	key := alarm.Key()
	existing, err := scanIncident(tx.QueryRowContext(ctx,
		`SELECT `+incidentColumns+`
		 FROM incidents WHERE incident_key = $1
		 ORDER BY last_seen DESC LIMIT 1
		 FOR UPDATE`,
		key,
	))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up incident %s: %w", key, err)
	}

	var inc *models.Incident
	if existing == nil {
		inc, err = insertIncident(ctx, tx, alarm, key, now)
	} else {
		inc, err = refreshIncident(ctx, tx, existing, alarm, now)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit incident %s: %w", key, err)
	}
	return inc, nil
}

func insertIncident(ctx context.Context, tx *sql.Tx, alarm models.Alarm, key string, now time.Time) (*models.Incident, error) {
	inc := &models.Incident{
		ID:          uuid.New(),
		IncidentKey: key,
		Route:       alarm.Route,
		Kind:        alarm.Kind,
		Status:      models.StatusOpen,
		Severity:    alarm.Severity,
		FirstSeen:   now,
		LastSeen:    now,
		Owner:       alarm.Owner,
		Metadata: models.IncidentMetadata{
			LastEvidence: alarm.Evidence,
			LastHint:     alarm.Hint,
		},
	}

	ownerJSON, err := marshalNullable(inc.Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal owner: %w", err)
	}
	metaJSON, err := json.Marshal(inc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO incidents (id, incident_key, route, kind, status, severity, first_seen, last_seen,
		                        escalation_level, owner, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)`,
		inc.ID, inc.IncidentKey, inc.Route, inc.Kind, inc.Status, inc.Severity,
		inc.FirstSeen, inc.LastSeen, ownerJSON, metaJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert incident %s: %w", key, err)
	}
	return inc, nil
}

func refreshIncident(ctx context.Context, tx *sql.Tx, inc *models.Incident, alarm models.Alarm, now time.Time) (*models.Incident, error) {
	inc.LastSeen = now
	inc.Severity = raiseSeverity(inc.Severity, alarm.Severity)
	inc.Metadata.LastEvidence = alarm.Evidence
	inc.Metadata.LastHint = alarm.Hint

	metaJSON, err := json.Marshal(inc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE incidents SET last_seen = $2, severity = $3, metadata = $4 WHERE id = $1`,
		inc.ID, inc.LastSeen, inc.Severity, metaJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update incident %s: %w", inc.IncidentKey, err)
	}
	return inc, nil
}

// raiseSeverity merges severities monotonically: once critical, always
// critical until an operator resolves the incident.
func raiseSeverity(current, incoming string) string {
	if current == models.SeverityCritical || incoming == models.SeverityCritical {
		return models.SeverityCritical
	}
	return current
}

// OpenCandidates returns open, unacknowledged incidents below the level cap
// whose snooze has lapsed (escalated_at null or at/before the cutoff).
func (s *Store) OpenCandidates(ctx context.Context, snoozeCutoff time.Time, maxLevel int) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+`
		 FROM incidents
		 WHERE status = $1 AND acknowledged_at IS NULL AND escalation_level < $2
		   AND (escalated_at IS NULL OR escalated_at <= $3)
		 ORDER BY first_seen ASC`,
		models.StatusOpen, maxLevel, snoozeCutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation candidates: %w", err)
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

// BumpEscalation advances one incident from fromLevel to fromLevel+1 and
// records the escalation event. The guarded UPDATE is the compare-and-swap
// against concurrent ticks; the unique event hash is the authoritative
// idempotency boundary. Returns false without error when another tick got
// there first.
func (s *Store) BumpEscalation(ctx context.Context, inc models.Incident, fromLevel int, eventHash string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE incidents
		 SET escalation_level = escalation_level + 1, escalated_at = $3
		 WHERE id = $1 AND escalation_level = $2 AND status = $4 AND acknowledged_at IS NULL`,
		inc.ID, fromLevel, now, models.StatusOpen,
	)
	if err != nil {
		return false, fmt.Errorf("failed to bump incident %s: %w", inc.IncidentKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read bump result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO escalation_events (id, incident_id, incident_key, escalation_level, event_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), inc.ID, inc.IncidentKey, fromLevel+1, eventHash, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			// Another tick already recorded this level; treat as a no-op.
			return false, nil
		}
		return false, fmt.Errorf("failed to record escalation event %s: %w", eventHash, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit escalation for %s: %w", inc.IncidentKey, err)
	}
	return true, nil
}

// List returns incidents, optionally filtered by status, newest first.
func (s *Store) List(ctx context.Context, status string, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY last_seen DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var out []models.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

// Acknowledge marks an open incident acknowledged, which permanently
// removes it from escalation.
func (s *Store) Acknowledge(ctx context.Context, id uuid.UUID, by string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET status = $2, acknowledged_at = $3, acknowledged_by = $4
		 WHERE id = $1 AND status = $5`,
		id, models.StatusAcknowledged, now, by, models.StatusOpen,
	)
	if err != nil {
		return fmt.Errorf("failed to acknowledge incident %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Resolve closes an incident.
func (s *Store) Resolve(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET status = $2, last_seen = $3 WHERE id = $1 AND status != $2`,
		id, models.StatusResolved, now,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve incident %s: %w", id, err)
	}
	return requireRow(res, id)
}

// ErrNotFound is returned for administrative actions on unknown or
// already-transitioned incidents.
var ErrNotFound = errors.New("incident not found")

func requireRow(res sql.Result, id uuid.UUID) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read result for %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	var inc models.Incident
	var ownerJSON, metaJSON []byte
	err := row.Scan(
		&inc.ID, &inc.IncidentKey, &inc.Route, &inc.Kind, &inc.Status, &inc.Severity,
		&inc.FirstSeen, &inc.LastSeen, &inc.EscalationLevel, &inc.EscalatedAt,
		&inc.AcknowledgedAt, &inc.AcknowledgedBy, &ownerJSON, &metaJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if len(ownerJSON) > 0 {
		inc.Owner = &models.RouteOwner{}
		if err := json.Unmarshal(ownerJSON, inc.Owner); err != nil {
			inc.Owner = nil
		}
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &inc.Metadata)
	}
	return &inc, nil
}

func marshalNullable(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch o := v.(type) {
	case *models.RouteOwner:
		if o == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
