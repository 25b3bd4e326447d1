// Package recipe implements recipe storage, chunking, and retrieval for Sous.
//
// Recipes arrive as plain text, scraped web pages, or YouTube transcripts.
// They are split into overlapping chunks, embedded, and stored in PostgreSQL
// with a pgvector index so the voice agent can retrieve the relevant part of
// the recipe the user is currently cooking.
package recipe

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by store lookups when no matching recipe exists.
var ErrNotFound = errors.New("recipe: not found")

// Source identifies where a recipe's text came from.
type Source string

const (
	SourceText    Source = "text"
	SourceWeb     Source = "web"
	SourceYouTube Source = "youtube"
)

// Recipe is a stored recipe owned by a single user.
type Recipe struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Source    Source    `json:"source"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is one overlapping slice of a recipe's text, embedded for retrieval.
type Chunk struct {
	ID        string
	RecipeID  string
	UserID    string
	Index     int
	Total     int
	Content   string
	Embedding []float32
}

// ChunkResult is a retrieved chunk together with its cosine distance to the
// query embedding. Smaller distance means more similar.
type ChunkResult struct {
	Chunk    Chunk
	Distance float64
}

// ChunkID builds the deterministic chunk identifier used as the primary key.
func ChunkID(recipeID, userID string, index int) string {
	return fmt.Sprintf("recipe_%s_user_%s_chunk_%d", recipeID, userID, index)
}

// Store is the persistence contract for recipes and their chunks.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveRecipe writes the recipe and replaces all of its chunks. Chunks
	// must carry embeddings of the dimension the store was created with.
	SaveRecipe(ctx context.Context, r Recipe, chunks []Chunk) error

	// GetRecipe returns one recipe. Returns [ErrNotFound] when it does not
	// exist or belongs to a different user.
	GetRecipe(ctx context.Context, userID, recipeID string) (Recipe, error)

	// ListRecipes returns all recipes of one user, newest first.
	ListRecipes(ctx context.Context, userID string) ([]Recipe, error)

	// DeleteRecipe removes a recipe and all of its chunks. Deleting a recipe
	// that does not exist returns [ErrNotFound].
	DeleteRecipe(ctx context.Context, userID, recipeID string) error

	// SearchChunks returns the topK chunks of one recipe closest to the
	// query embedding, ordered by ascending cosine distance.
	SearchChunks(ctx context.Context, userID, recipeID string, embedding []float32, topK int) ([]ChunkResult, error)

	// Ping verifies database connectivity. Used by the readiness probe.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close()
}
