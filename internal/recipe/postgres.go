package recipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// ddlRecipes returns the DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlRecipes(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS recipes (
    id          TEXT         NOT NULL,
    user_id     TEXT         NOT NULL,
    title       TEXT         NOT NULL DEFAULT '',
    source      TEXT         NOT NULL DEFAULT 'text',
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, id)
);

CREATE INDEX IF NOT EXISTS idx_recipes_user_id
    ON recipes (user_id);

CREATE TABLE IF NOT EXISTS recipe_chunks (
    id           TEXT         PRIMARY KEY,
    recipe_id    TEXT         NOT NULL,
    user_id      TEXT         NOT NULL,
    chunk_index  INT          NOT NULL,
    total_chunks INT          NOT NULL,
    content      TEXT         NOT NULL,
    embedding    vector(%d),
    FOREIGN KEY (user_id, recipe_id) REFERENCES recipes (user_id, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_recipe_chunks_recipe
    ON recipe_chunks (user_id, recipe_id);

CREATE INDEX IF NOT EXISTS idx_recipe_chunks_embedding
    ON recipe_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the recipe tables and the pgvector extension
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the embedding model in use (e.g., 1536 for
// OpenAI text-embedding-3-small). Changing this value after the first
// migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlRecipes(embeddingDimensions)); err != nil {
		return fmt.Errorf("recipe migrate: %w", err)
	}
	return nil
}

// PostgresStore is the PostgreSQL-backed [Store] implementation. Recipe
// chunks carry a pgvector HNSW index for fast approximate nearest-neighbour
// search. All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the database at dsn,
// registers pgvector types on every connection, and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string, embeddingDimensions int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("recipe store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("recipe store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recipe store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recipe store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// SaveRecipe implements [Store]. The recipe row and all of its chunks are
// written in one transaction; existing chunks of the same recipe are
// replaced.
func (s *PostgresStore) SaveRecipe(ctx context.Context, r Recipe, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("recipe store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsertRecipe = `
		INSERT INTO recipes (id, user_id, title, source, text, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, id) DO UPDATE SET
		    title  = EXCLUDED.title,
		    source = EXCLUDED.source,
		    text   = EXCLUDED.text`
	if _, err := tx.Exec(ctx, upsertRecipe, r.ID, r.UserID, r.Title, string(r.Source), r.Text); err != nil {
		return fmt.Errorf("recipe store: upsert recipe: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM recipe_chunks WHERE user_id = $1 AND recipe_id = $2`,
		r.UserID, r.ID,
	); err != nil {
		return fmt.Errorf("recipe store: clear chunks: %w", err)
	}

	const insertChunk = `
		INSERT INTO recipe_chunks
		    (id, recipe_id, user_id, chunk_index, total_chunks, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, c := range chunks {
		vec := pgvector.NewVector(c.Embedding)
		if _, err := tx.Exec(ctx, insertChunk,
			c.ID, c.RecipeID, c.UserID, c.Index, c.Total, c.Content, vec,
		); err != nil {
			return fmt.Errorf("recipe store: insert chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("recipe store: commit: %w", err)
	}
	return nil
}

// GetRecipe implements [Store].
func (s *PostgresStore) GetRecipe(ctx context.Context, userID, recipeID string) (Recipe, error) {
	const q = `
		SELECT id, user_id, title, source, text, created_at
		FROM   recipes
		WHERE  user_id = $1 AND id = $2`

	var r Recipe
	var source string
	err := s.pool.QueryRow(ctx, q, userID, recipeID).Scan(
		&r.ID, &r.UserID, &r.Title, &source, &r.Text, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipe{}, ErrNotFound
	}
	if err != nil {
		return Recipe{}, fmt.Errorf("recipe store: get recipe: %w", err)
	}
	r.Source = Source(source)
	return r, nil
}

// ListRecipes implements [Store].
func (s *PostgresStore) ListRecipes(ctx context.Context, userID string) ([]Recipe, error) {
	const q = `
		SELECT id, user_id, title, source, text, created_at
		FROM   recipes
		WHERE  user_id = $1
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("recipe store: list recipes: %w", err)
	}

	recipes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Recipe, error) {
		var r Recipe
		var source string
		if err := row.Scan(&r.ID, &r.UserID, &r.Title, &source, &r.Text, &r.CreatedAt); err != nil {
			return Recipe{}, err
		}
		r.Source = Source(source)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recipe store: scan rows: %w", err)
	}
	if recipes == nil {
		recipes = []Recipe{}
	}
	return recipes, nil
}

// DeleteRecipe implements [Store]. Chunks go with the recipe via the foreign
// key cascade.
func (s *PostgresStore) DeleteRecipe(ctx context.Context, userID, recipeID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM recipes WHERE user_id = $1 AND id = $2`,
		userID, recipeID,
	)
	if err != nil {
		return fmt.Errorf("recipe store: delete recipe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchChunks implements [Store]. Results are ordered by ascending cosine
// distance (most similar first).
func (s *PostgresStore) SearchChunks(ctx context.Context, userID, recipeID string, embedding []float32, topK int) ([]ChunkResult, error) {
	const q = `
		SELECT id, recipe_id, user_id, chunk_index, total_chunks, content, embedding,
		       embedding <=> $1 AS distance
		FROM   recipe_chunks
		WHERE  user_id = $2 AND recipe_id = $3
		ORDER  BY distance
		LIMIT  $4`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), userID, recipeID, topK)
	if err != nil {
		return nil, fmt.Errorf("recipe store: search chunks: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChunkResult, error) {
		var (
			cr  ChunkResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&cr.Chunk.ID,
			&cr.Chunk.RecipeID,
			&cr.Chunk.UserID,
			&cr.Chunk.Index,
			&cr.Chunk.Total,
			&cr.Chunk.Content,
			&vec,
			&cr.Distance,
		); err != nil {
			return ChunkResult{}, err
		}
		cr.Chunk.Embedding = vec.Slice()
		return cr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recipe store: scan rows: %w", err)
	}
	if results == nil {
		results = []ChunkResult{}
	}
	return results, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() {
	s.pool.Close()
}
