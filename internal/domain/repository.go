package domain

import (
	"context"
	"time"
)

// DeleteReason records why a reconciliation component removed an activity.
type DeleteReason string

const (
	// DeleteReasonResolution marks deletions requested through the review surface.
	DeleteReasonResolution DeleteReason = "duplicate_resolution"
	// DeleteReasonAutomatedDedup marks deletions performed by the unattended dedup job.
	DeleteReasonAutomatedDedup DeleteReason = "automated_dedup"
)

// ActivityRepository captures persistence operations over the activity store.
//
// Deletion is only ever invoked by the resolution executor and the automated
// dedup job; implementations record an activity.deleted outbox event in the
// same transaction as the delete.
type ActivityRepository interface {
	Create(ctx context.Context, activity Activity) error
	Get(ctx context.Context, userID, activityID string) (*Activity, error)

	// ListByUser returns all of a user's activities ordered by StartedAt ascending.
	ListByUser(ctx context.Context, userID string) ([]Activity, error)

	// ListByUserRange returns a user's activities with StartedAt in [from, to),
	// ordered by StartedAt ascending. Zero bounds are open.
	ListByUserRange(ctx context.Context, userID string, from, to time.Time) ([]Activity, error)

	// FindBySourceID resolves a source-specific external id to a live record,
	// scoped to userID. Returns (nil, nil) when no record matches.
	FindBySourceID(ctx context.Context, userID string, source Source, externalID string) (*Activity, error)

	// Delete removes one activity. Returns false when the record does not
	// exist (or belongs to another user), which callers count as an error
	// without aborting their batch.
	Delete(ctx context.Context, userID, activityID string, reason DeleteReason) (bool, error)

	// RecordResolution publishes a duplicates.resolved summary event for one
	// resolution batch.
	RecordResolution(ctx context.Context, userID string, resolved, errors int) error
}

// MigrationRepository is the full-table surface used by the batch jobs.
type MigrationRepository interface {
	ActivityRepository

	// ListAll returns every activity in the store ordered by (user_id, started_at).
	ListAll(ctx context.Context) ([]Activity, error)

	// ListMissingSource returns activities whose source tag is unset.
	ListMissingSource(ctx context.Context) ([]Activity, error)

	// SetSource patches the source tag of one record.
	SetSource(ctx context.Context, activityID string, source Source) error

	// Count reports the total number of activities in the store.
	Count(ctx context.Context) (int, error)
}
