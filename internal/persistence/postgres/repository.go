// Package postgres provides pgx-backed persistence for the activity store and
// its transactional outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/reconciliation/internal/domain"
	"example.com/reconciliation/internal/events"
)

const activityColumns = `activity_id, user_id, started_at, ended_at, duration_min, distance_m,
        calories, avg_heart_rate, source, device_health_id, fitness_network_id, synced_at, created_at`

const (
	topicActivityEvents       = "activity_events"
	topicReconciliationEvents = "reconciliation_events"
)

// Repository provides Postgres-backed persistence for activities and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create persists one activity.
func (r *Repository) Create(ctx context.Context, activity domain.Activity) error {
	if err := activity.Validate(); err != nil {
		return err
	}
	if activity.ID == "" {
		activity.ID = domain.NewID()
	}

	const stmt = `INSERT INTO activities (activity_id, user_id, started_at, ended_at, duration_min, distance_m,
        calories, avg_heart_rate, source, device_health_id, fitness_network_id, synced_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err := r.pool.Exec(ctx, stmt,
		activity.ID,
		activity.UserID,
		activity.StartedAt,
		activity.EndedAt,
		activity.DurationMin,
		activity.DistanceM,
		activity.Calories,
		activity.AvgHeartRate,
		nullIfEmpty(string(activity.Source)),
		nullIfEmpty(activity.DeviceHealthID),
		nullIfZero(activity.FitnessNetworkID),
		activity.SyncedAt,
		activity.CreatedAt,
	)
	return err
}

// Get retrieves one activity scoped to its owner.
func (r *Repository) Get(ctx context.Context, userID, activityID string) (*domain.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE user_id=$1 AND activity_id=$2`, activityColumns)

	row := r.pool.QueryRow(ctx, query, userID, activityID)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return activity, nil
}

// ListByUser returns a user's activities ordered by start time ascending.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Activity, error) {
	return r.ListByUserRange(ctx, userID, time.Time{}, time.Time{})
}

// ListByUserRange returns a user's activities with StartedAt in [from, to).
func (r *Repository) ListByUserRange(ctx context.Context, userID string, from, to time.Time) ([]domain.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE user_id=$1`, activityColumns)
	args := []interface{}{userID}

	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(` AND started_at >= $%d`, len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(` AND started_at < $%d`, len(args))
	}
	query += ` ORDER BY started_at ASC, activity_id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// FindBySourceID resolves a source-specific external id for one user.
func (r *Repository) FindBySourceID(ctx context.Context, userID string, source domain.Source, externalID string) (*domain.Activity, error) {
	var query string
	var arg interface{}

	switch source {
	case domain.SourceDeviceHealth:
		query = fmt.Sprintf(`SELECT %s FROM activities WHERE user_id=$1 AND source=$2 AND device_health_id=$3`, activityColumns)
		arg = externalID
	case domain.SourceFitnessNetwork:
		id, err := strconv.ParseInt(externalID, 10, 64)
		if err != nil {
			return nil, nil
		}
		query = fmt.Sprintf(`SELECT %s FROM activities WHERE user_id=$1 AND source=$2 AND fitness_network_id=$3`, activityColumns)
		arg = id
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSource, source)
	}

	row := r.pool.QueryRow(ctx, query, userID, string(source), arg)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return activity, nil
}

// Delete removes one activity and records an activity.deleted outbox event in
// the same transaction. Returns false when no row matched.
func (r *Repository) Delete(ctx context.Context, userID, activityID string, reason domain.DeleteReason) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`SELECT %s FROM activities WHERE user_id=$1 AND activity_id=$2 FOR UPDATE`, activityColumns)
	row := tx.QueryRow(ctx, query, userID, activityID)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = nil
			_ = tx.Rollback(ctx)
			return false, nil
		}
		return false, err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM activities WHERE user_id=$1 AND activity_id=$2`, userID, activityID); err != nil {
		return false, err
	}

	payload := events.ActivityDeleted{
		ActivityID: activity.ID,
		UserID:     activity.UserID,
		Source:     string(activity.Source),
		ExternalID: activity.ExternalID(),
		Reason:     string(reason),
		OccurredAt: time.Now().UTC(),
	}
	if err = insertOutbox(ctx, tx, userID, "activity", activity.ID, "activity.deleted", topicActivityEvents, payload); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RecordResolution publishes a duplicates.resolved summary event.
func (r *Repository) RecordResolution(ctx context.Context, userID string, resolved, errs int) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	payload := events.DuplicatesResolved{
		UserID:     userID,
		Resolved:   resolved,
		Errors:     errs,
		OccurredAt: time.Now().UTC(),
	}
	if err = insertOutbox(ctx, tx, userID, "resolution", userID, "duplicates.resolved", topicReconciliationEvents, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListAll returns every activity ordered by (user_id, started_at).
func (r *Repository) ListAll(ctx context.Context) ([]domain.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities ORDER BY user_id ASC, started_at ASC, activity_id ASC`, activityColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ListMissingSource returns legacy activities that still lack a source tag.
func (r *Repository) ListMissingSource(ctx context.Context) ([]domain.Activity, error) {
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE source IS NULL ORDER BY user_id ASC, started_at ASC`, activityColumns)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

// SetSource patches the source tag of one record.
func (r *Repository) SetSource(ctx context.Context, activityID string, source domain.Source) error {
	tag, err := r.pool.Exec(ctx, `UPDATE activities SET source=$2 WHERE activity_id=$1`, activityID, string(source))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// Count reports the total number of activities.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, userID, aggregateType, aggregateID, eventType, topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, stmt, userID, aggregateType, aggregateID, eventType, topic, userID, body)
	return err
}

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var (
		activity         domain.Activity
		source           *string
		deviceHealthID   *string
		fitnessNetworkID *int64
	)
	if err := row.Scan(
		&activity.ID,
		&activity.UserID,
		&activity.StartedAt,
		&activity.EndedAt,
		&activity.DurationMin,
		&activity.DistanceM,
		&activity.Calories,
		&activity.AvgHeartRate,
		&source,
		&deviceHealthID,
		&fitnessNetworkID,
		&activity.SyncedAt,
		&activity.CreatedAt,
	); err != nil {
		return nil, err
	}
	if source != nil {
		activity.Source = domain.Source(*source)
	}
	if deviceHealthID != nil {
		activity.DeviceHealthID = *deviceHealthID
	}
	if fitnessNetworkID != nil {
		activity.FitnessNetworkID = *fitnessNetworkID
	}
	return &activity, nil
}

func scanActivities(rows pgx.Rows) ([]domain.Activity, error) {
	var out []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *activity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZero(value int64) interface{} {
	if value == 0 {
		return nil
	}
	return value
}
