// Package postgres implements storage.MemoryStore on PostgreSQL with the
// pgvector extension. Similarity search is pushed into the database using the
// cosine distance operator, so it scales past what the in-Go SQLite scan can
// handle.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/crowmane/mnemo/internal/storage"
	"github.com/crowmane/mnemo/pkg/types"
)

// Ensure *MemoryStore implements storage.MemoryStore at compile time.
var _ storage.MemoryStore = (*MemoryStore)(nil)

// MemoryStore implements storage.MemoryStore using PostgreSQL + pgvector.
type MemoryStore struct {
	db        *sql.DB
	dimension int
}

// NewMemoryStore connects to PostgreSQL, ensures the pgvector extension and
// creates the schema with the given embedding dimension. The dimension is
// fixed per database; changing embedding models requires a new schema.
func NewMemoryStore(dsn string, dimension int) (*MemoryStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", types.ErrInvalidInput)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to enable pgvector: %w", err)
	}
	if _, err := db.Exec(schemaSQL(dimension)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	return &MemoryStore{db: db, dimension: dimension}, nil
}

// schemaSQL renders the schema with the configured vector dimension.
func schemaSQL(dimension int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS memorygrams (
	id           TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	type         TEXT NOT NULL,
	subtype      TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	ts           BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	chat_id      TEXT NOT NULL DEFAULT '',
	previous_id  TEXT NOT NULL DEFAULT '',
	next_id      TEXT NOT NULL DEFAULT '',
	sequence     BIGINT NOT NULL DEFAULT 0,
	vec_topical  vector(%d),
	vec_content  vector(%d),
	vec_context  vector(%d),
	vec_metadata vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_memorygrams_chat_id ON memorygrams(chat_id);

CREATE TABLE IF NOT EXISTS associations (
	id         TEXT PRIMARY KEY,
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	type       TEXT NOT NULL,
	weight     DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	UNIQUE(from_id, to_id, type)
);
`, dimension, dimension, dimension, dimension)
}

// Upsert creates or updates a memorygram.
func (s *MemoryStore) Upsert(ctx context.Context, m *types.Memorygram) (*types.Memorygram, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: memorygram is required", types.ErrInvalidInput)
	}
	if m.ID == "" {
		m.ID = "gram:" + uuid.NewString()
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	const query = `
		INSERT INTO memorygrams (
			id, content, type, subtype, source, ts,
			created_at, updated_at, chat_id, previous_id, next_id, sequence,
			vec_topical, vec_content, vec_context, vec_metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT(id) DO UPDATE SET
			content      = EXCLUDED.content,
			type         = EXCLUDED.type,
			subtype      = EXCLUDED.subtype,
			source       = EXCLUDED.source,
			ts           = EXCLUDED.ts,
			updated_at   = EXCLUDED.updated_at,
			chat_id      = EXCLUDED.chat_id,
			previous_id  = EXCLUDED.previous_id,
			next_id      = EXCLUDED.next_id,
			sequence     = EXCLUDED.sequence,
			vec_topical  = COALESCE(EXCLUDED.vec_topical, memorygrams.vec_topical),
			vec_content  = COALESCE(EXCLUDED.vec_content, memorygrams.vec_content),
			vec_context  = COALESCE(EXCLUDED.vec_context, memorygrams.vec_context),
			vec_metadata = COALESCE(EXCLUDED.vec_metadata, memorygrams.vec_metadata)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.Content, string(m.Type), m.Subtype, m.Source, m.Timestamp,
		m.CreatedAt, m.UpdatedAt, m.ChatID, m.PreviousID, m.NextID, m.Sequence,
		vectorParam(m.Embeddings.Topical),
		vectorParam(m.Embeddings.Content),
		vectorParam(m.Embeddings.Context),
		vectorParam(m.Embeddings.Metadata),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert memorygram %s: %v", storage.ErrPersistence, m.ID, err)
	}
	return m, nil
}

// UpsertAssociation creates or updates the (fromID, toID, relType) edge with
// last-write-wins weight semantics.
func (s *MemoryStore) UpsertAssociation(ctx context.Context, fromID, toID, relType string, weight float64) (*types.Association, error) {
	if fromID == "" || toID == "" || relType == "" {
		return nil, fmt.Errorf("%w: from, to and type are required", types.ErrInvalidInput)
	}

	for _, id := range []string{fromID, toID} {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, fmt.Errorf("association endpoint %s: %w", id, err)
		}
	}

	now := time.Now().UTC()
	assoc := &types.Association{
		FromID: fromID,
		ToID:   toID,
		Type:   relType,
		Weight: weight,
		Active: true,
	}

	const query = `
		INSERT INTO associations (id, from_id, to_id, type, weight, created_at, updated_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT(from_id, to_id, type) DO UPDATE SET
			weight     = EXCLUDED.weight,
			updated_at = EXCLUDED.updated_at,
			active     = TRUE
		RETURNING id, weight, created_at, updated_at, active
	`
	row := s.db.QueryRowContext(ctx, query,
		"assoc:"+uuid.NewString(), fromID, toID, relType, weight, now, now)
	if err := row.Scan(&assoc.ID, &assoc.Weight, &assoc.CreatedAt, &assoc.UpdatedAt, &assoc.Active); err != nil {
		return nil, fmt.Errorf("%w: upsert association %s->%s: %v", storage.ErrPersistence, fromID, toID, err)
	}
	return assoc, nil
}

// Get retrieves a memorygram by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memorygram, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", types.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+memorygramColumns+`
		FROM memorygrams WHERE id = $1`, id)

	m, err := scanMemorygram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memorygram %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get memorygram %s: %v", storage.ErrPersistence, id, err)
	}
	return m, nil
}

// FindSimilar ranks memorygrams in the database by the best cosine similarity
// across the four facet columns, ties broken by most recent updated_at.
func (s *MemoryStore) FindSimilar(ctx context.Context, vector []float32, topK int) ([]storage.ScoredMemorygram, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", types.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 10
	}

	query := fmt.Sprintf(`
		SELECT %s,
			GREATEST(
				COALESCE(1 - (vec_topical  <=> $1), 0),
				COALESCE(1 - (vec_content  <=> $1), 0),
				COALESCE(1 - (vec_context  <=> $1), 0),
				COALESCE(1 - (vec_metadata <=> $1), 0)
			) AS score
		FROM memorygrams
		WHERE vec_topical IS NOT NULL OR vec_content IS NOT NULL
		   OR vec_context IS NOT NULL OR vec_metadata IS NOT NULL
		ORDER BY score DESC, updated_at DESC
		LIMIT $2`, memorygramColumns)

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", storage.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.ScoredMemorygram
	for rows.Next() {
		m, score, err := scanScoredMemorygram(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: vector search scan: %v", storage.ErrPersistence, err)
		}
		results = append(results, storage.ScoredMemorygram{Memorygram: m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: vector search rows: %v", storage.ErrPersistence, err)
	}
	return results, nil
}

// GetByChatID returns the chat's memorygrams in previous/next chain order,
// excluding the Experience node.
func (s *MemoryStore) GetByChatID(ctx context.Context, chatID string) ([]*types.Memorygram, error) {
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat id is required", types.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memorygramColumns+`
		FROM memorygrams
		WHERE chat_id = $1 AND type != $2`, chatID, string(types.TypeExperience))
	if err != nil {
		return nil, fmt.Errorf("%w: get chat %s: %v", storage.ErrPersistence, chatID, err)
	}
	defer func() { _ = rows.Close() }()

	var grams []*types.Memorygram
	for rows.Next() {
		m, err := scanMemorygram(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: get chat scan: %v", storage.ErrPersistence, err)
		}
		grams = append(grams, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: get chat rows: %v", storage.ErrPersistence, err)
	}

	return storage.ChainOrder(grams), nil
}

// Close closes the underlying database connection.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}

// memorygramColumns is the canonical SELECT column list for the memorygrams
// table. It must match the scan order in scanMemorygram.
const memorygramColumns = `
	id, content, type, subtype, source, ts,
	created_at, updated_at, chat_id, previous_id, next_id, sequence,
	vec_topical, vec_content, vec_context, vec_metadata
`

// vectorParam converts a facet vector to a driver value, mapping an absent
// facet to NULL so COALESCE keeps any previously stored vector.
func vectorParam(vec []float32) interface{} {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(vec)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nullVector mirrors database/sql.Null[pgvector.Vector] for toolchains
// predating Go 1.22, which lack the generic sql.Null type.
type nullVector struct {
	V     pgvector.Vector
	Valid bool
}

func (n *nullVector) Scan(value interface{}) error {
	if value == nil {
		n.V, n.Valid = pgvector.Vector{}, false
		return nil
	}
	if err := n.V.Scan(value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// nullableSlice maps a NULL vector column to a nil slice.
func nullableSlice(v nullVector) []float32 {
	if !v.Valid {
		return nil
	}
	return v.V.Slice()
}

func scanMemorygram(row rowScanner) (*types.Memorygram, error) {
	var (
		m       types.Memorygram
		memType string
		facets  [4]nullVector
	)

	err := row.Scan(
		&m.ID, &m.Content, &memType, &m.Subtype, &m.Source, &m.Timestamp,
		&m.CreatedAt, &m.UpdatedAt, &m.ChatID, &m.PreviousID, &m.NextID, &m.Sequence,
		&facets[0], &facets[1], &facets[2], &facets[3],
	)
	if err != nil {
		return nil, err
	}

	m.Type = types.MemorygramType(memType)
	m.Embeddings = types.FacetEmbeddings{
		Topical:  nullableSlice(facets[0]),
		Content:  nullableSlice(facets[1]),
		Context:  nullableSlice(facets[2]),
		Metadata: nullableSlice(facets[3]),
	}
	return &m, nil
}

func scanScoredMemorygram(row rowScanner) (*types.Memorygram, float64, error) {
	var (
		m       types.Memorygram
		memType string
		facets  [4]nullVector
		score   float64
	)

	err := row.Scan(
		&m.ID, &m.Content, &memType, &m.Subtype, &m.Source, &m.Timestamp,
		&m.CreatedAt, &m.UpdatedAt, &m.ChatID, &m.PreviousID, &m.NextID, &m.Sequence,
		&facets[0], &facets[1], &facets[2], &facets[3],
		&score,
	)
	if err != nil {
		return nil, 0, err
	}

	m.Type = types.MemorygramType(memType)
	m.Embeddings = types.FacetEmbeddings{
		Topical:  nullableSlice(facets[0]),
		Content:  nullableSlice(facets[1]),
		Context:  nullableSlice(facets[2]),
		Metadata: nullableSlice(facets[3]),
	}
	return &m, score, nil
}
