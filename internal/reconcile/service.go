package reconcile

import (
	"context"
	"time"

	"example.com/reconciliation/internal/domain"
	"example.com/reconciliation/internal/logging"
	"example.com/reconciliation/internal/observability"
)

// Service exposes the reconciliation operations consumed by the API layer:
// duplicate detection, directive resolution, and the plain per-user reads used
// by downstream gamification features.
type Service struct {
	repo     domain.ActivityRepository
	executor *Executor
}

// NewService constructs a Service.
func NewService(repo domain.ActivityRepository, log *logging.Logger) *Service {
	return &Service{
		repo:     repo,
		executor: NewExecutor(repo, log),
	}
}

// FindDuplicateActivities runs a detection pass over one user's timeline.
// Detection is read-only; it produces a proposal, never a mutation.
func (s *Service) FindDuplicateActivities(ctx context.Context, userID string) ([]CandidatePair, error) {
	activities, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	pairs := FindDuplicatePairs(activities)
	observability.RecordDuplicatesDetected(len(pairs))
	return pairs, nil
}

// ResolveDuplicates applies the user's keep-source decisions.
func (s *Service) ResolveDuplicates(ctx context.Context, userID string, directives []Directive) (Outcome, error) {
	return s.executor.Resolve(ctx, userID, directives)
}

// GetActivity fetches a single record scoped to the calling user.
func (s *Service) GetActivity(ctx context.Context, userID, activityID string) (*domain.Activity, error) {
	activity, err := s.repo.Get(ctx, userID, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, domain.ErrActivityNotFound
	}
	return activity, nil
}

// ListActivities returns the user's reconciled timeline, optionally bounded.
func (s *Service) ListActivities(ctx context.Context, userID string, from, to time.Time) ([]domain.Activity, error) {
	if from.IsZero() && to.IsZero() {
		return s.repo.ListByUser(ctx, userID)
	}
	return s.repo.ListByUserRange(ctx, userID, from, to)
}
