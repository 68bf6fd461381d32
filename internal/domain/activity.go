// Package domain defines the canonical activity model and reconciliation contracts.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrSourceMismatch indicates an activity whose external id does not match its source tag.
	ErrSourceMismatch = errors.New("activity source does not match populated external id")
	// ErrUnknownSource is returned for source values outside the closed set.
	ErrUnknownSource = errors.New("unknown activity source")
)

// Source identifies which telemetry stream produced an activity.
type Source string

const (
	// SourceDeviceHealth is the on-device health platform.
	SourceDeviceHealth Source = "device_health"
	// SourceFitnessNetwork is the third-party social fitness network.
	SourceFitnessNetwork Source = "fitness_network"
)

// ParseSource validates a raw source value against the closed set.
func ParseSource(raw string) (Source, error) {
	switch Source(raw) {
	case SourceDeviceHealth:
		return SourceDeviceHealth, nil
	case SourceFitnessNetwork:
		return SourceFitnessNetwork, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, raw)
	}
}

// Activity is one recorded run. It is immutable after ingestion except for
// reconciliation-driven deletion and source-tag repair by the migration jobs.
type Activity struct {
	ID           string
	UserID       string
	StartedAt    time.Time
	EndedAt      time.Time
	DurationMin  int
	DistanceM    float64
	Calories     *int
	AvgHeartRate *int

	// Source is empty on legacy rows created before the tagging columns
	// existed; the backfill job populates it.
	Source Source

	// Exactly one of the external ids is populated, matching Source.
	DeviceHealthID   string
	FitnessNetworkID int64

	SyncedAt  time.Time
	CreatedAt time.Time
}

// NewDeviceHealthActivity constructs a device-health record with a matching external id.
func NewDeviceHealthActivity(userID, deviceHealthID string, startedAt, endedAt time.Time, durationMin int, distanceM float64) Activity {
	now := time.Now().UTC()
	return Activity{
		ID:             uuid.NewString(),
		UserID:         userID,
		StartedAt:      startedAt.UTC(),
		EndedAt:        endedAt.UTC(),
		DurationMin:    durationMin,
		DistanceM:      distanceM,
		Source:         SourceDeviceHealth,
		DeviceHealthID: deviceHealthID,
		SyncedAt:       now,
		CreatedAt:      now,
	}
}

// NewFitnessNetworkActivity constructs a fitness-network record with a matching external id.
func NewFitnessNetworkActivity(userID string, fitnessNetworkID int64, startedAt, endedAt time.Time, durationMin int, distanceM float64) Activity {
	now := time.Now().UTC()
	return Activity{
		ID:               uuid.NewString(),
		UserID:           userID,
		StartedAt:        startedAt.UTC(),
		EndedAt:          endedAt.UTC(),
		DurationMin:      durationMin,
		DistanceM:        distanceM,
		Source:           SourceFitnessNetwork,
		FitnessNetworkID: fitnessNetworkID,
		SyncedAt:         now,
		CreatedAt:        now,
	}
}

// SourceConsistent reports whether the populated external id matches the source tag.
// Untagged legacy rows are not considered inconsistent; the backfill job owns them.
func (a Activity) SourceConsistent() bool {
	switch a.Source {
	case SourceDeviceHealth:
		return a.DeviceHealthID != ""
	case SourceFitnessNetwork:
		return a.FitnessNetworkID != 0
	default:
		return true
	}
}

// ExternalID renders the source-specific external identifier for logs and events.
func (a Activity) ExternalID() string {
	switch a.Source {
	case SourceFitnessNetwork:
		return fmt.Sprintf("%d", a.FitnessNetworkID)
	default:
		return a.DeviceHealthID
	}
}

// Validate checks the record invariants for newly ingested activities.
func (a Activity) Validate() error {
	if a.UserID == "" {
		return errors.New("user id is required")
	}
	if a.EndedAt.Before(a.StartedAt) {
		return errors.New("ended_at precedes started_at")
	}
	if a.DurationMin < 0 {
		return errors.New("duration must be non-negative")
	}
	if a.DistanceM < 0 {
		return errors.New("distance must be non-negative")
	}
	if a.Calories != nil && *a.Calories < 0 {
		return errors.New("calories must be non-negative")
	}
	if a.AvgHeartRate != nil && *a.AvgHeartRate < 0 {
		return errors.New("average heart rate must be non-negative")
	}
	if a.Source != "" {
		if _, err := ParseSource(string(a.Source)); err != nil {
			return err
		}
		if !a.SourceConsistent() {
			return ErrSourceMismatch
		}
	}
	return nil
}

// NewID mints a store-owned activity identifier.
func NewID() string {
	return uuid.NewString()
}
