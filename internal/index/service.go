package index

import (
	"context"
	"log/slog"

	"github.com/dkoren/tagsmith/internal/llm"
)

// Service is the retrieval service: it resolves a natural-language
// query to an ordered set of filepaths by combining an oracle-derived
// metadata filter with similarity search over the index.
type Service struct {
	index  *Index
	oracle llm.Client
	model  string
	log    *slog.Logger
}

// NewService creates a retrieval service. The oracle may be nil, in
// which case queries run without self-query narrowing.
func NewService(ix *Index, oracle llm.Client, model string, log *slog.Logger) *Service {
	return &Service{index: ix, oracle: oracle, model: model, log: log}
}

// Resolve returns the filepaths matching the query, best match first.
// An empty result is a valid outcome, distinct from the error return.
func (s *Service) Resolve(ctx context.Context, query string) ([]string, error) {
	var plan queryPlan
	if s.oracle != nil {
		plan = planQuery(ctx, s.oracle, s.model, query, s.log)
	}

	matches, err := s.index.Search(ctx, query, plan.Filter, plan.Limit)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.Filepath
	}

	s.log.Debug("query resolved",
		"query", query,
		"filter", plan.Filter,
		"limit", plan.Limit,
		"matches", len(paths),
	)
	return paths, nil
}
