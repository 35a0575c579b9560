package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Memory is a persona's long-term memory entry with a vector embedding used
// for similarity recall when building prompts.
type Memory struct {
	ID      uuid.UUID `db:"id"`
	RunID   uuid.UUID `db:"run_id"`
	Persona string    `db:"persona"`
	Symbol  string    `db:"symbol"`

	Type    Type   `db:"type"`
	Content string `db:"content"`

	// Embedding metadata; model name matters for search compatibility.
	Embedding           pgvector.Vector `db:"embedding"`
	EmbeddingModel      string          `db:"embedding_model"`
	EmbeddingDimensions int             `db:"embedding_dimensions"`

	Importance float64   `db:"importance"` // 0-1, retrieval ranking
	CreatedAt  time.Time `db:"created_at"`
}

// Type classifies a memory entry
type Type string

const (
	TypeReflection Type = "reflection" // post-run self-assessment
	TypeLesson     Type = "lesson"     // validated pattern worth reusing
)

// Valid checks if the memory type is known
func (t Type) Valid() bool {
	switch t {
	case TypeReflection, TypeLesson:
		return true
	}
	return false
}

// String returns the string representation
func (t Type) String() string {
	return string(t)
}
