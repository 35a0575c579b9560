package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"minerva/pkg/errors"
	"minerva/pkg/logger"
)

// Service provides recall and reflection storage for persona memories.
// The embedder is optional; without it recall falls back to recency order.
type Service struct {
	repo     Repository
	embedder Embedder
	log      *logger.Logger
}

// NewService constructs a memory service.
func NewService(repo Repository, embedder Embedder) *Service {
	return &Service{
		repo:     repo,
		embedder: embedder,
		log:      logger.Get().With("component", "memory_service"),
	}
}

// Recall returns the most relevant memories for a persona analysing symbol.
// With an embedder configured the query is embedded and memories are ranked
// by cosine similarity; otherwise the most recent entries win.
func (s *Service) Recall(ctx context.Context, persona string, symbol string, query string, limit int) ([]*Memory, error) {
	if persona == "" {
		return nil, errors.ErrInvalidInput
	}
	if limit <= 0 {
		limit = 5
	}

	if s.embedder != nil && query != "" {
		emb, err := s.embedder.GenerateEmbedding(ctx, query)
		if err != nil {
			s.log.Warnf("Embedding failed, falling back to recency recall: %v", err)
		} else {
			results, err := s.repo.SearchSimilar(ctx, persona, pgvector.NewVector(emb), limit)
			if err != nil {
				return nil, errors.Wrap(err, "similarity recall")
			}
			return results, nil
		}
	}

	results, err := s.repo.RecentByPersona(ctx, persona, symbol, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recency recall")
	}
	return results, nil
}

// Reflect stores a post-run reflection for a persona.
func (s *Service) Reflect(ctx context.Context, runID uuid.UUID, persona string, symbol string, content string, importance float64) error {
	if persona == "" || content == "" {
		return errors.ErrInvalidInput
	}

	mem := &Memory{
		ID:         uuid.New(),
		RunID:      runID,
		Persona:    persona,
		Symbol:     symbol,
		Type:       TypeReflection,
		Content:    content,
		Importance: importance,
		CreatedAt:  time.Now(),
	}

	if s.embedder != nil {
		emb, err := s.embedder.GenerateEmbedding(ctx, content)
		if err != nil {
			s.log.Warnf("Embedding reflection failed, storing without vector: %v", err)
		} else {
			mem.Embedding = pgvector.NewVector(emb)
			mem.EmbeddingModel = s.embedder.Name()
			mem.EmbeddingDimensions = s.embedder.Dimensions()
		}
	}

	if err := s.repo.Store(ctx, mem); err != nil {
		return errors.Wrap(err, "store reflection")
	}
	return nil
}
