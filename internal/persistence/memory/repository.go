// Package memory provides an in-memory activity repository for local
// development and unit tests.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"example.com/reconciliation/internal/domain"
	"example.com/reconciliation/internal/events"
)

// RecordedEvent captures an event the repository would have written to the outbox.
type RecordedEvent struct {
	Type    string
	UserID  string
	Payload interface{}
}

// Repository stores activities in memory.
type Repository struct {
	mu         sync.RWMutex
	activities map[string]domain.Activity
	recorded   []RecordedEvent
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{activities: make(map[string]domain.Activity)}
}

// Create implements domain.ActivityRepository.
func (r *Repository) Create(ctx context.Context, activity domain.Activity) error {
	if err := activity.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if activity.ID == "" {
		activity.ID = domain.NewID()
	}
	r.activities[activity.ID] = activity
	return nil
}

// Get implements domain.ActivityRepository.
func (r *Repository) Get(ctx context.Context, userID, activityID string) (*domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	activity, ok := r.activities[activityID]
	if !ok || activity.UserID != userID {
		return nil, nil
	}
	return &activity, nil
}

// ListByUser implements domain.ActivityRepository.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Activity, error) {
	return r.ListByUserRange(ctx, userID, time.Time{}, time.Time{})
}

// ListByUserRange implements domain.ActivityRepository.
func (r *Repository) ListByUserRange(ctx context.Context, userID string, from, to time.Time) ([]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Activity
	for _, activity := range r.activities {
		if activity.UserID != userID {
			continue
		}
		if !from.IsZero() && activity.StartedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !activity.StartedAt.Before(to) {
			continue
		}
		out = append(out, activity)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// FindBySourceID implements domain.ActivityRepository.
func (r *Repository) FindBySourceID(ctx context.Context, userID string, source domain.Source, externalID string) (*domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, activity := range r.activities {
		if activity.UserID != userID || activity.Source != source {
			continue
		}
		switch source {
		case domain.SourceDeviceHealth:
			if activity.DeviceHealthID == externalID {
				found := activity
				return &found, nil
			}
		case domain.SourceFitnessNetwork:
			id, err := strconv.ParseInt(externalID, 10, 64)
			if err != nil {
				return nil, nil
			}
			if activity.FitnessNetworkID == id {
				found := activity
				return &found, nil
			}
		}
	}
	return nil, nil
}

// Delete implements domain.ActivityRepository.
func (r *Repository) Delete(ctx context.Context, userID, activityID string, reason domain.DeleteReason) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[activityID]
	if !ok || activity.UserID != userID {
		return false, nil
	}
	delete(r.activities, activityID)
	r.recorded = append(r.recorded, RecordedEvent{
		Type:   "activity.deleted",
		UserID: userID,
		Payload: events.ActivityDeleted{
			ActivityID: activity.ID,
			UserID:     activity.UserID,
			Source:     string(activity.Source),
			ExternalID: activity.ExternalID(),
			Reason:     string(reason),
			OccurredAt: time.Now().UTC(),
		},
	})
	return true, nil
}

// RecordResolution implements domain.ActivityRepository.
func (r *Repository) RecordResolution(ctx context.Context, userID string, resolved, errors int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, RecordedEvent{
		Type:   "duplicates.resolved",
		UserID: userID,
		Payload: events.DuplicatesResolved{
			UserID:     userID,
			Resolved:   resolved,
			Errors:     errors,
			OccurredAt: time.Now().UTC(),
		},
	})
	return nil
}

// ListAll implements domain.MigrationRepository.
func (r *Repository) ListAll(ctx context.Context) ([]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Activity, 0, len(r.activities))
	for _, activity := range r.activities {
		out = append(out, activity)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

// ListMissingSource implements domain.MigrationRepository.
func (r *Repository) ListMissingSource(ctx context.Context) ([]domain.Activity, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Activity
	for _, activity := range all {
		if activity.Source == "" {
			out = append(out, activity)
		}
	}
	return out, nil
}

// SetSource implements domain.MigrationRepository.
func (r *Repository) SetSource(ctx context.Context, activityID string, source domain.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[activityID]
	if !ok {
		return domain.ErrActivityNotFound
	}
	activity.Source = source
	r.activities[activityID] = activity
	return nil
}

// Count implements domain.MigrationRepository.
func (r *Repository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activities), nil
}

// Seed inserts a raw activity without validation, mirroring legacy rows that
// predate the source-tagging columns.
func (r *Repository) Seed(activity domain.Activity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if activity.ID == "" {
		activity.ID = domain.NewID()
	}
	r.activities[activity.ID] = activity
}

// Events returns the events recorded so far.
func (r *Repository) Events() []RecordedEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordedEvent, len(r.recorded))
	copy(out, r.recorded)
	return out
}
