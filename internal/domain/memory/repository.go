package memory

import (
	"context"

	"github.com/pgvector/pgvector-go"
)

// Repository persists persona memories
type Repository interface {
	Store(ctx context.Context, memory *Memory) error
	RecentByPersona(ctx context.Context, persona string, symbol string, limit int) ([]*Memory, error)
	SearchSimilar(ctx context.Context, persona string, embedding pgvector.Vector, limit int) ([]*Memory, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
}

// Embedder produces vector embeddings for memory content
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}
