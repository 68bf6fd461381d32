package reconcile

import (
	"context"
	"strconv"

	"example.com/reconciliation/internal/domain"
	"example.com/reconciliation/internal/logging"
	"example.com/reconciliation/internal/observability"
)

// Directive names one confirmed duplicate pair and which side survives.
type Directive struct {
	DeviceHealthID   string
	FitnessNetworkID int64
	KeepSource       domain.Source
}

// Outcome aggregates the result of one resolution batch.
type Outcome struct {
	Resolved int
	Errors   int
}

// Executor applies resolution directives against the activity store.
//
// Processing is best effort and at-least-once: a directive whose records
// cannot be found (including already-resolved pairs and ids belonging to
// another user) is counted as an error and the batch continues.
type Executor struct {
	repo domain.ActivityRepository
	log  *logging.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(repo domain.ActivityRepository, log *logging.Logger) *Executor {
	return &Executor{repo: repo, log: log}
}

// Resolve processes directives for one user and returns aggregate counts.
func (e *Executor) Resolve(ctx context.Context, userID string, directives []Directive) (Outcome, error) {
	var outcome Outcome
	if len(directives) == 0 {
		// Nothing to apply; an empty batch must not emit a summary event.
		return outcome, nil
	}

	for _, directive := range directives {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		if e.resolveOne(ctx, userID, directive) {
			outcome.Resolved++
		} else {
			outcome.Errors++
		}
	}

	observability.RecordResolution(outcome.Resolved, outcome.Errors)
	if err := e.repo.RecordResolution(ctx, userID, outcome.Resolved, outcome.Errors); err != nil {
		e.log.WithUserID(userID).WithError(err).Warn("failed to record resolution outcome")
	}
	return outcome, nil
}

func (e *Executor) resolveOne(ctx context.Context, userID string, directive Directive) bool {
	entry := e.log.WithUserID(userID)

	if directive.KeepSource != domain.SourceDeviceHealth && directive.KeepSource != domain.SourceFitnessNetwork {
		entry.WithField("keep_source", directive.KeepSource).Warn("directive names unknown keep source")
		return false
	}

	deviceHealth, err := e.repo.FindBySourceID(ctx, userID, domain.SourceDeviceHealth, directive.DeviceHealthID)
	if err != nil {
		entry.WithError(err).Warn("device-health lookup failed")
		return false
	}
	fitnessNetwork, err := e.repo.FindBySourceID(ctx, userID, domain.SourceFitnessNetwork, strconv.FormatInt(directive.FitnessNetworkID, 10))
	if err != nil {
		entry.WithError(err).Warn("fitness-network lookup failed")
		return false
	}
	if deviceHealth == nil || fitnessNetwork == nil {
		// Already resolved, or the ids do not belong to this user.
		return false
	}

	loser := fitnessNetwork
	if directive.KeepSource == domain.SourceFitnessNetwork {
		loser = deviceHealth
	}

	deleted, err := e.repo.Delete(ctx, userID, loser.ID, domain.DeleteReasonResolution)
	if err != nil {
		entry.WithError(err).WithField("activity_id", loser.ID).Warn("duplicate delete failed")
		return false
	}
	return deleted
}
