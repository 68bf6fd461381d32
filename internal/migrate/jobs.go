// Package migrate holds the idempotent full-table jobs that kept the activity
// store consistent while the source-tagging schema was introduced.
package migrate

import (
	"context"
	"time"

	"example.com/reconciliation/internal/domain"
	"example.com/reconciliation/internal/logging"
	"example.com/reconciliation/internal/observability"
	"example.com/reconciliation/internal/reconcile"
)

// BackfillReport summarises one backfill-source run.
type BackfillReport struct {
	MigratedCount   int
	TotalActivities int
}

// CleanupReport summarises one consistency-cleanup run.
type CleanupReport struct {
	CleanedCount    int
	TotalActivities int
}

// DedupReport summarises one automated dedup run.
type DedupReport struct {
	DuplicatesRemoved int
	KeptSource        domain.Source
	TotalActivities   int
}

// Runner executes the batch jobs. Each job runs as a single logical actor and
// is safe to re-run to a fixed point.
type Runner struct {
	repo domain.MigrationRepository
	log  *logging.Logger
}

// NewRunner constructs a Runner.
func NewRunner(repo domain.MigrationRepository, log *logging.Logger) *Runner {
	return &Runner{repo: repo, log: log}
}

// BackfillSource patches the source tag onto legacy activities that predate
// the tagging columns. A device-health external id implies device_health; a
// fitness-network id implies fitness_network; records with neither default to
// device_health, since the fitness-network integration postdates all untagged
// rows. Re-running after completion patches zero records.
func (r *Runner) BackfillSource(ctx context.Context) (BackfillReport, error) {
	entry := r.log.WithJob("backfill_source")

	total, err := r.repo.Count(ctx)
	if err != nil {
		return BackfillReport{}, err
	}

	missing, err := r.repo.ListMissingSource(ctx)
	if err != nil {
		return BackfillReport{}, err
	}

	report := BackfillReport{TotalActivities: total}
	for _, activity := range missing {
		source := domain.SourceDeviceHealth
		if activity.DeviceHealthID == "" && activity.FitnessNetworkID != 0 {
			source = domain.SourceFitnessNetwork
		}
		if err := r.repo.SetSource(ctx, activity.ID, source); err != nil {
			return report, err
		}
		report.MigratedCount++
	}

	observability.RecordSourceBackfilled(report.MigratedCount)
	entry.WithField("migrated", report.MigratedCount).WithField("total", total).Info("backfill complete")
	return report, nil
}

// CleanupConsistency repairs records whose source tag does not match the
// populated external id. A fitness_network tag with no fitness-network id is
// treated as a tagging error and reset to device_health. A device_health tag
// with no device-health id has no unambiguous fix and is logged for manual
// review instead of being silently dropped.
func (r *Runner) CleanupConsistency(ctx context.Context) (CleanupReport, error) {
	entry := r.log.WithJob("cleanup_consistency")

	activities, err := r.repo.ListAll(ctx)
	if err != nil {
		return CleanupReport{}, err
	}

	report := CleanupReport{TotalActivities: len(activities)}
	for _, activity := range activities {
		if activity.Source == "" || activity.SourceConsistent() {
			continue
		}

		switch activity.Source {
		case domain.SourceFitnessNetwork:
			if err := r.repo.SetSource(ctx, activity.ID, domain.SourceDeviceHealth); err != nil {
				return report, err
			}
			report.CleanedCount++
		case domain.SourceDeviceHealth:
			entry.WithField("activity_id", activity.ID).
				WithField("user_id", activity.UserID).
				Warn("device_health activity lacks a device-health id; needs manual review")
		}
	}

	observability.RecordSourceRepaired(report.CleanedCount)
	entry.WithField("cleaned", report.CleanedCount).WithField("total", report.TotalActivities).Info("consistency cleanup complete")
	return report, nil
}

// AutomatedDedup runs the detection pipeline over every user's timeline and
// deletes the losing record of each pair under a single keep-source policy.
// Deletions are computed for the whole pass before any are applied, so the
// scan never iterates a set it is mutating.
func (r *Runner) AutomatedDedup(ctx context.Context, keepSource domain.Source) (DedupReport, error) {
	if keepSource == "" {
		keepSource = domain.SourceDeviceHealth
	}
	if _, err := domain.ParseSource(string(keepSource)); err != nil {
		return DedupReport{}, err
	}

	entry := r.log.WithJob("automated_dedup").WithField("keep_source", keepSource)

	activities, err := r.repo.ListAll(ctx)
	if err != nil {
		return DedupReport{}, err
	}

	byUser := make(map[string][]domain.Activity)
	for _, activity := range activities {
		byUser[activity.UserID] = append(byUser[activity.UserID], activity)
	}

	type deletion struct {
		userID     string
		activityID string
	}
	var deletions []deletion
	for userID, userActivities := range byUser {
		for _, pair := range reconcile.FindDuplicatePairs(userActivities) {
			loser := pair.FitnessNetwork
			if keepSource == domain.SourceFitnessNetwork {
				loser = pair.DeviceHealth
			}
			deletions = append(deletions, deletion{userID: userID, activityID: loser.ID})
		}
	}

	report := DedupReport{KeptSource: keepSource, TotalActivities: len(activities)}
	for _, del := range deletions {
		deleted, err := r.repo.Delete(ctx, del.userID, del.activityID, domain.DeleteReasonAutomatedDedup)
		if err != nil {
			return report, err
		}
		if deleted {
			report.DuplicatesRemoved++
		}
	}

	observability.RecordDedupRun(report.DuplicatesRemoved, time.Now().UTC())
	entry.WithField("removed", report.DuplicatesRemoved).WithField("total", report.TotalActivities).Info("automated dedup complete")
	return report, nil
}
