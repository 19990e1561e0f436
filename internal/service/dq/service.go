package dq

import (
	"context"
	"log/slog"

	"etl-orchestrator/internal/domain"
)

// SnapshotSource produces the current configuration snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*domain.ConfigSnapshot, error)
}

// Service scores ad-hoc records against the currently configured rules. A
// fresh scorer is compiled from a new snapshot on every call.
type Service struct {
	config SnapshotSource
	base   *PredicateRegistry
	refs   ReferenceResolver
	logger *slog.Logger
}

// NewService creates a scoring service. base and refs may be nil.
func NewService(config SnapshotSource, base *PredicateRegistry, refs ReferenceResolver, logger *slog.Logger) *Service {
	return &Service{config: config, base: base, refs: refs, logger: logger.With("component", "dq")}
}

// Score evaluates each record against the active rules of entityType.
// An entity type without active rules is a NotFoundError.
func (s *Service) Score(ctx context.Context, entityType string, records []domain.Row) ([]domain.ScoreResult, error) {
	snap, err := s.config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	scorer, err := BuildScorer(snap, s.base, s.refs, s.logger)
	if err != nil {
		return nil, err
	}
	if len(scorer.Rules(entityType)) == 0 {
		return nil, domain.ErrNotFound("no active dq rules for entity type %q", entityType)
	}
	out := make([]domain.ScoreResult, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, scorer.Score(ctx, entityType, rec))
	}
	return out, nil
}

// Rules returns the active rules of entityType from the current snapshot.
func (s *Service) Rules(ctx context.Context, entityType string) ([]domain.DQRule, error) {
	snap, err := s.config.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.RulesFor(entityType), nil
}
