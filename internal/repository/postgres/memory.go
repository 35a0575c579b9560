// Package postgres implements the durable repositories on sqlx.
package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"minerva/internal/domain/memory"
	"minerva/pkg/errors"
)

// Compile-time check
var _ memory.Repository = (*MemoryRepository)(nil)

// MemoryRepository implements memory.Repository using sqlx and pgvector.
type MemoryRepository struct {
	db *sqlx.DB
}

// NewMemoryRepository creates a new memory repository.
func NewMemoryRepository(db *sqlx.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

const memoryColumns = `
	id, run_id, persona, symbol, type, content,
	embedding, embedding_model, embedding_dimensions, importance, created_at`

// Store inserts a new memory.
func (r *MemoryRepository) Store(ctx context.Context, m *memory.Memory) error {
	query := `
		INSERT INTO memories (
			id, run_id, persona, symbol, type, content,
			embedding, embedding_model, embedding_dimensions, importance, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.RunID, m.Persona, m.Symbol, m.Type, m.Content,
		m.Embedding, m.EmbeddingModel, m.EmbeddingDimensions, m.Importance, m.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert memory")
	}
	return nil
}

// RecentByPersona retrieves the latest memories for a persona, preferring
// entries about the same symbol.
func (r *MemoryRepository) RecentByPersona(ctx context.Context, persona string, symbol string, limit int) ([]*memory.Memory, error) {
	var memories []*memory.Memory

	query := `
		SELECT ` + memoryColumns + `
		FROM memories
		WHERE persona = $1
		ORDER BY (symbol = $2) DESC, created_at DESC
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &memories, query, persona, symbol, limit); err != nil {
		return nil, errors.Wrap(err, "recent memories")
	}
	return memories, nil
}

// SearchSimilar performs semantic search using pgvector cosine distance.
func (r *MemoryRepository) SearchSimilar(ctx context.Context, persona string, embedding pgvector.Vector, limit int) ([]*memory.Memory, error) {
	var memories []*memory.Memory

	query := `
		SELECT ` + memoryColumns + `
		FROM memories
		WHERE persona = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3`

	if err := r.db.SelectContext(ctx, &memories, query, persona, embedding, limit); err != nil {
		return nil, errors.Wrap(err, "similarity search")
	}
	return memories, nil
}

// DeleteOlderThan removes memories past the retention horizon and returns
// how many were deleted.
func (r *MemoryRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM memories WHERE created_at < NOW() - ($1 || ' days')::interval`, days)
	if err != nil {
		return 0, errors.Wrap(err, "delete old memories")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}
