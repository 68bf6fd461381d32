package migrate

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/reconciliation/internal/domain"
	"example.com/reconciliation/internal/logging"
	"example.com/reconciliation/internal/persistence/memory"
)

var baseTime = time.Date(2024, time.May, 1, 7, 0, 0, 0, time.UTC)

func testRunner(repo *memory.Repository) *Runner {
	log := logging.NewLogger("test")
	log.SetOutput(io.Discard)
	return NewRunner(repo, log)
}

func legacyActivity(userID string, deviceHealthID string, fitnessNetworkID int64) domain.Activity {
	return domain.Activity{
		ID:               domain.NewID(),
		UserID:           userID,
		StartedAt:        baseTime,
		EndedAt:          baseTime.Add(30 * time.Minute),
		DurationMin:      30,
		DistanceM:        5000,
		DeviceHealthID:   deviceHealthID,
		FitnessNetworkID: fitnessNetworkID,
		SyncedAt:         baseTime,
		CreatedAt:        baseTime,
	}
}

func TestBackfillSourceInfersAndDefaults(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	withDeviceID := legacyActivity("user-1", domain.NewID(), 0)
	withFitnessID := legacyActivity("user-1", "", 555)
	withNeither := legacyActivity("user-1", "", 0)
	tagged := domain.NewDeviceHealthActivity("user-1", domain.NewID(), baseTime.Add(time.Hour), baseTime.Add(2*time.Hour), 60, 10000)

	repo.Seed(withDeviceID)
	repo.Seed(withFitnessID)
	repo.Seed(withNeither)
	repo.Seed(tagged)

	report, err := testRunner(repo).BackfillSource(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, report.MigratedCount)
	require.Equal(t, 4, report.TotalActivities)

	get := func(id string) domain.Activity {
		activity, err := repo.Get(ctx, "user-1", id)
		require.NoError(t, err)
		require.NotNil(t, activity)
		return *activity
	}
	require.Equal(t, domain.SourceDeviceHealth, get(withDeviceID.ID).Source)
	require.Equal(t, domain.SourceFitnessNetwork, get(withFitnessID.ID).Source)
	require.Equal(t, domain.SourceDeviceHealth, get(withNeither.ID).Source, "untagged records default to device_health")
}

func TestBackfillSourceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	repo.Seed(legacyActivity("user-1", domain.NewID(), 0))

	runner := testRunner(repo)

	first, err := runner.BackfillSource(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.MigratedCount)

	second, err := runner.BackfillSource(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, second.MigratedCount)
	require.Equal(t, 1, second.TotalActivities)
}

func TestCleanupConsistencyRetagsFitnessNetworkWithoutID(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	// Tagging error: fitness_network with no fitness-network id.
	mistagged := legacyActivity("user-1", domain.NewID(), 0)
	mistagged.Source = domain.SourceFitnessNetwork
	repo.Seed(mistagged)

	consistent := domain.NewFitnessNetworkActivity("user-1", 777, baseTime.Add(time.Hour), baseTime.Add(2*time.Hour), 60, 8000)
	require.NoError(t, repo.Create(ctx, consistent))

	report, err := testRunner(repo).CleanupConsistency(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.CleanedCount)
	require.Equal(t, 2, report.TotalActivities)

	repaired, err := repo.Get(ctx, "user-1", mistagged.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SourceDeviceHealth, repaired.Source)
}

func TestCleanupConsistencyLeavesAmbiguousRecords(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	// device_health with no device-health id has no unambiguous repair; it
	// is logged for review, never deleted or retagged.
	malformed := legacyActivity("user-1", "", 0)
	malformed.Source = domain.SourceDeviceHealth
	repo.Seed(malformed)

	report, err := testRunner(repo).CleanupConsistency(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.CleanedCount)

	kept, err := repo.Get(ctx, "user-1", malformed.ID)
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.Equal(t, domain.SourceDeviceHealth, kept.Source)
}

func TestCleanupConsistencyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	mistagged := legacyActivity("user-1", domain.NewID(), 0)
	mistagged.Source = domain.SourceFitnessNetwork
	repo.Seed(mistagged)

	runner := testRunner(repo)

	first, err := runner.CleanupConsistency(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.CleanedCount)

	second, err := runner.CleanupConsistency(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, second.CleanedCount)
}

func TestAutomatedDedupAcrossUsers(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	for i := 0; i < 100; i++ {
		userID := fmt.Sprintf("user-%03d", i)
		dh := domain.NewDeviceHealthActivity(userID, domain.NewID(), baseTime, baseTime.Add(30*time.Minute), 30, 5000)
		fn := domain.NewFitnessNetworkActivity(userID, int64(1000+i), baseTime.Add(3*time.Minute), baseTime.Add(33*time.Minute), 30, 5020)
		require.NoError(t, repo.Create(ctx, dh))
		require.NoError(t, repo.Create(ctx, fn))
	}

	report, err := testRunner(repo).AutomatedDedup(ctx, domain.SourceDeviceHealth)
	require.NoError(t, err)
	require.Equal(t, 100, report.DuplicatesRemoved)
	require.Equal(t, domain.SourceDeviceHealth, report.KeptSource)
	require.Equal(t, 200, report.TotalActivities)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 100)
	for _, activity := range all {
		require.Equal(t, domain.SourceDeviceHealth, activity.Source)
	}
}

func TestAutomatedDedupDefaultsToDeviceHealth(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	dh := domain.NewDeviceHealthActivity("user-1", domain.NewID(), baseTime, baseTime.Add(30*time.Minute), 30, 5000)
	fn := domain.NewFitnessNetworkActivity("user-1", 321, baseTime.Add(time.Minute), baseTime.Add(31*time.Minute), 30, 5010)
	require.NoError(t, repo.Create(ctx, dh))
	require.NoError(t, repo.Create(ctx, fn))

	report, err := testRunner(repo).AutomatedDedup(ctx, "")
	require.NoError(t, err)
	require.Equal(t, domain.SourceDeviceHealth, report.KeptSource)
	require.Equal(t, 1, report.DuplicatesRemoved)
}

func TestAutomatedDedupKeepsFitnessNetworkPolicy(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	dh := domain.NewDeviceHealthActivity("user-1", domain.NewID(), baseTime, baseTime.Add(30*time.Minute), 30, 5000)
	fn := domain.NewFitnessNetworkActivity("user-1", 321, baseTime.Add(time.Minute), baseTime.Add(31*time.Minute), 30, 5010)
	require.NoError(t, repo.Create(ctx, dh))
	require.NoError(t, repo.Create(ctx, fn))

	report, err := testRunner(repo).AutomatedDedup(ctx, domain.SourceFitnessNetwork)
	require.NoError(t, err)
	require.Equal(t, 1, report.DuplicatesRemoved)

	remaining, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, domain.SourceFitnessNetwork, remaining[0].Source)
}

func TestAutomatedDedupRejectsUnknownPolicy(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	_, err := testRunner(repo).AutomatedDedup(ctx, domain.Source("garmin"))
	require.ErrorIs(t, err, domain.ErrUnknownSource)
}

func TestAutomatedDedupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()

	dh := domain.NewDeviceHealthActivity("user-1", domain.NewID(), baseTime, baseTime.Add(30*time.Minute), 30, 5000)
	fn := domain.NewFitnessNetworkActivity("user-1", 321, baseTime.Add(time.Minute), baseTime.Add(31*time.Minute), 30, 5010)
	require.NoError(t, repo.Create(ctx, dh))
	require.NoError(t, repo.Create(ctx, fn))

	runner := testRunner(repo)

	first, err := runner.AutomatedDedup(ctx, domain.SourceDeviceHealth)
	require.NoError(t, err)
	require.Equal(t, 1, first.DuplicatesRemoved)

	second, err := runner.AutomatedDedup(ctx, domain.SourceDeviceHealth)
	require.NoError(t, err)
	require.Equal(t, 0, second.DuplicatesRemoved)
	require.Equal(t, 1, second.TotalActivities)
}
