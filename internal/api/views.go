package api

import (
	"time"

	"example.com/reconciliation/internal/domain"
)

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID   string    `json:"activity_id"`
	UserID       string    `json:"user_id"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	DurationMin  int       `json:"duration_min"`
	DistanceM    float64   `json:"distance_m"`
	Calories     *int      `json:"calories,omitempty"`
	AvgHeartRate *int      `json:"avg_heart_rate,omitempty"`
	Source       string    `json:"source,omitempty"`
	ExternalID   string    `json:"external_id,omitempty"`
	SyncedAt     time.Time `json:"synced_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// DuplicatePairView is one candidate pair presented to the review surface.
type DuplicatePairView struct {
	DeviceHealth   ActivityView `json:"device_health"`
	FitnessNetwork ActivityView `json:"fitness_network"`
	Similarity     float64      `json:"similarity"`
}

// FindDuplicatesResponse packages detection results.
type FindDuplicatesResponse struct {
	Pairs []DuplicatePairView `json:"pairs"`
}

// ResolveDirectiveRequest names one confirmed pair and the surviving source.
type ResolveDirectiveRequest struct {
	DeviceHealthID   string `json:"device_health_id" validate:"required,uuid"`
	FitnessNetworkID int64  `json:"fitness_network_id" validate:"required,gt=0"`
	KeepSource       string `json:"keep_source" validate:"required,oneof=device_health fitness_network"`
}

// ResolveRequest is the payload for POST /v1/duplicates/resolve.
type ResolveRequest struct {
	Directives []ResolveDirectiveRequest `json:"directives" validate:"required,min=1,dive"`
}

// ResolveResponse reports aggregate counts for one resolution batch.
type ResolveResponse struct {
	Resolved int `json:"resolved"`
	Errors   int `json:"errors"`
}

// ListActivitiesResponse packages timeline reads.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

// BackfillResponse reports one backfill-source run.
type BackfillResponse struct {
	MigratedCount   int `json:"migrated_count"`
	TotalActivities int `json:"total_activities"`
}

// CleanupResponse reports one consistency-cleanup run.
type CleanupResponse struct {
	CleanedCount    int `json:"cleaned_count"`
	TotalActivities int `json:"total_activities"`
}

// DedupRequest optionally overrides the global keep-source policy.
type DedupRequest struct {
	KeepSource string `json:"keep_source" validate:"omitempty,oneof=device_health fitness_network"`
}

// DedupResponse reports one automated dedup run.
type DedupResponse struct {
	DuplicatesRemoved int    `json:"duplicates_removed"`
	KeptSource        string `json:"kept_source"`
	TotalActivities   int    `json:"total_activities"`
}

func toActivityView(activity domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:   activity.ID,
		UserID:       activity.UserID,
		StartedAt:    activity.StartedAt,
		EndedAt:      activity.EndedAt,
		DurationMin:  activity.DurationMin,
		DistanceM:    activity.DistanceM,
		Calories:     activity.Calories,
		AvgHeartRate: activity.AvgHeartRate,
		Source:       string(activity.Source),
		ExternalID:   activity.ExternalID(),
		SyncedAt:     activity.SyncedAt,
		CreatedAt:    activity.CreatedAt,
	}
}
