package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odonata-labs/ledgerflow/model"
)

// PgActivityStore is a PostgreSQL-backed ActivityStore using pgx/v5.
// Seq assignment and the seed insert run inside transactions so a
// ledger append is all-or-nothing.
type PgActivityStore struct {
	pool *pgxpool.Pool
}

// NewPgActivityStore creates a new PostgreSQL activity store.
func NewPgActivityStore(pool *pgxpool.Pool) *PgActivityStore {
	return &PgActivityStore{pool: pool}
}

// HealthCheck pings the database.
func (s *PgActivityStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateActivity persists an activity and its seed entry atomically.
func (s *PgActivityStore) CreateActivity(ctx context.Context, act model.Activity, seed model.HistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create activity: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO activities (id, workflow_id, subject_ref, created_on, completed_on)
		VALUES ($1, $2, $3, $4, $5)`,
		act.ID, act.WorkflowID, act.SubjectRef, act.CreatedOn, act.CompletedOn,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO history_entries (
			id, activity_id, seq, state_id, transition_id, event_id,
			participant_id, note, deadline, created_at
		) VALUES ($1, $2, 1, $3, NULL, NULL, NULL, $4, $5, $6)`,
		seed.ID, seed.ActivityID, seed.StateID, seed.Note, seed.Deadline, seed.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert seed history entry: %w", err)
	}
	return tx.Commit(ctx)
}

// GetActivity retrieves an activity by ID.
func (s *PgActivityStore) GetActivity(ctx context.Context, activityID string) (model.Activity, error) {
	var act model.Activity
	err := s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, subject_ref, created_on, completed_on
		FROM activities WHERE id = $1`,
		activityID,
	).Scan(&act.ID, &act.WorkflowID, &act.SubjectRef, &act.CreatedOn, &act.CompletedOn)
	if err == pgx.ErrNoRows {
		return model.Activity{}, model.NewNotFoundError(fmt.Sprintf("activity %q not found", activityID))
	}
	if err != nil {
		return model.Activity{}, fmt.Errorf("query activity: %w", err)
	}
	return act, nil
}

// ListActivities returns activities matching the filters.
func (s *PgActivityStore) ListActivities(ctx context.Context, filters model.ActivityFilters) ([]model.Activity, error) {
	query := `SELECT id, workflow_id, subject_ref, created_on, completed_on FROM activities`
	var conds []string
	var args []any
	argIdx := 1

	addCond := func(cond string, arg any) {
		conds = append(conds, fmt.Sprintf(cond, argIdx))
		args = append(args, arg)
		argIdx++
	}
	if filters.WorkflowID != "" {
		addCond("workflow_id = $%d", filters.WorkflowID)
	}
	if filters.SubjectRef != "" {
		addCond("subject_ref = $%d", filters.SubjectRef)
	}
	if filters.Completed != nil {
		if *filters.Completed {
			conds = append(conds, "completed_on IS NOT NULL")
		} else {
			conds = append(conds, "completed_on IS NULL")
		}
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_on DESC"
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var result []model.Activity
	for rows.Next() {
		var act model.Activity
		if err := rows.Scan(&act.ID, &act.WorkflowID, &act.SubjectRef, &act.CreatedOn, &act.CompletedOn); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		result = append(result, act)
	}
	return result, rows.Err()
}

// CompleteActivity sets the completion timestamp.
func (s *PgActivityStore) CompleteActivity(ctx context.Context, activityID string, completedOn time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE activities SET completed_on = $1 WHERE id = $2`, completedOn, activityID)
	if err != nil {
		return fmt.Errorf("complete activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("activity %q not found", activityID))
	}
	return nil
}

// AppendHistory appends an entry, assigning the next Seq inside a
// transaction that locks the activity row against concurrent appends.
func (s *PgActivityStore) AppendHistory(ctx context.Context, entry model.HistoryEntry) (model.HistoryEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("begin append history: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT true FROM activities WHERE id = $1 FOR UPDATE`, entry.ActivityID,
	).Scan(&exists)
	if err == pgx.ErrNoRows {
		return model.HistoryEntry{}, model.NewNotFoundError(fmt.Sprintf("activity %q not found", entry.ActivityID))
	}
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("lock activity: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM history_entries WHERE activity_id = $1`,
		entry.ActivityID,
	).Scan(&entry.Seq)
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("next seq: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO history_entries (
			id, activity_id, seq, state_id, transition_id, event_id,
			participant_id, note, deadline, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.ActivityID, entry.Seq, entry.StateID,
		nullable(entry.TransitionID), nullable(entry.EventID), nullable(entry.ParticipantID),
		entry.Note, entry.Deadline, entry.Timestamp,
	)
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("insert history entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("commit append history: %w", err)
	}
	return entry, nil
}

// LatestHistory returns the entry with the highest Seq.
func (s *PgActivityStore) LatestHistory(ctx context.Context, activityID string) (model.HistoryEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, activity_id, seq, state_id, transition_id, event_id,
		       participant_id, note, deadline, created_at
		FROM history_entries
		WHERE activity_id = $1
		ORDER BY seq DESC LIMIT 1`,
		activityID,
	)
	entry, err := scanHistoryEntry(row)
	if err == pgx.ErrNoRows {
		return model.HistoryEntry{}, model.NewNoHistoryError(activityID)
	}
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("query latest history: %w", err)
	}
	return entry, nil
}

// ListHistory returns the full ledger in Seq order.
func (s *PgActivityStore) ListHistory(ctx context.Context, activityID string) ([]model.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, activity_id, seq, state_id, transition_id, event_id,
		       participant_id, note, deadline, created_at
		FROM history_entries
		WHERE activity_id = $1
		ORDER BY seq ASC`,
		activityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var result []model.HistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// CreateParticipant persists a roster grant.
func (s *PgActivityStore) CreateParticipant(ctx context.Context, p model.Participant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (id, activity_id, principal_ref, role_id, granted_on)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.ActivityID, p.PrincipalRef, p.RoleID, p.GrantedOn,
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// ListParticipants returns all roster entries of an activity.
func (s *PgActivityStore) ListParticipants(ctx context.Context, activityID string) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, activity_id, principal_ref, role_id, granted_on
		FROM participants
		WHERE activity_id = $1
		ORDER BY granted_on ASC`,
		activityID,
	)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var result []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.ActivityID, &p.PrincipalRef, &p.RoleID, &p.GrantedOn); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// DeleteParticipant removes a roster grant, silently if absent.
func (s *PgActivityStore) DeleteParticipant(ctx context.Context, activityID, principalRef, roleID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM participants
		WHERE activity_id = $1 AND principal_ref = $2 AND role_id = $3`,
		activityID, principalRef, roleID,
	)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistoryEntry(row rowScanner) (model.HistoryEntry, error) {
	var entry model.HistoryEntry
	var transitionID, eventID, participantID *string
	if err := row.Scan(
		&entry.ID, &entry.ActivityID, &entry.Seq, &entry.StateID,
		&transitionID, &eventID, &participantID,
		&entry.Note, &entry.Deadline, &entry.Timestamp,
	); err != nil {
		return model.HistoryEntry{}, err
	}
	if transitionID != nil {
		entry.TransitionID = *transitionID
	}
	if eventID != nil {
		entry.EventID = *eventID
	}
	if participantID != nil {
		entry.ParticipantID = *participantID
	}
	return entry, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
