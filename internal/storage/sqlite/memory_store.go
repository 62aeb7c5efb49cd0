// Package sqlite implements storage.MemoryStore on SQLite via modernc.org/sqlite.
//
// Vector search loads candidate facet embeddings into Go memory and ranks them
// by cosine similarity; this keeps the backend dependency-free and is fast
// enough for the memory graph sizes a single agent accumulates.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/crowmane/mnemo/internal/storage"
	"github.com/crowmane/mnemo/pkg/types"
)

// Ensure *MemoryStore implements storage.MemoryStore at compile time.
var _ storage.MemoryStore = (*MemoryStore)(nil)

// vectorSearchMaxCandidates caps the number of embeddings loaded into memory
// during a vector search. Candidates are selected in recency order (newest
// first) so a very large graph degrades to "search recent memory" rather than
// exhausting memory.
const vectorSearchMaxCandidates = 10_000

// MemoryStore implements storage.MemoryStore using SQLite.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore opens a SQLite database at the given DSN (a file path or
// ":memory:"), configures WAL mode and creates the schema.
func NewMemoryStore(dsn string) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &MemoryStore{db: db}, nil
}

// Upsert creates or updates a memorygram. IDs are assigned once: a memorygram
// without an ID gets a fresh "gram:" id; an existing row keeps its created_at.
func (s *MemoryStore) Upsert(ctx context.Context, m *types.Memorygram) (*types.Memorygram, error) {
	if m == nil || m.Content == "" && m.ID == "" {
		return nil, fmt.Errorf("%w: memorygram with content is required", types.ErrInvalidInput)
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
			id, content, type, subtype, source, timestamp,
			created_at, updated_at, chat_id, previous_id, next_id, sequence,
			vec_topical, vec_content, vec_context, vec_metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content      = excluded.content,
			type         = excluded.type,
			subtype      = excluded.subtype,
			source       = excluded.source,
			timestamp    = excluded.timestamp,
			updated_at   = excluded.updated_at,
			chat_id      = excluded.chat_id,
			previous_id  = excluded.previous_id,
			next_id      = excluded.next_id,
			sequence     = excluded.sequence,
			vec_topical  = COALESCE(excluded.vec_topical, memorygrams.vec_topical),
			vec_content  = COALESCE(excluded.vec_content, memorygrams.vec_content),
			vec_context  = COALESCE(excluded.vec_context, memorygrams.vec_context),
			vec_metadata = COALESCE(excluded.vec_metadata, memorygrams.vec_metadata)
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.Content, string(m.Type), m.Subtype, m.Source, m.Timestamp,
		m.CreatedAt, m.UpdatedAt, m.ChatID, m.PreviousID, m.NextID, m.Sequence,
		serializeVector(m.Embeddings.Topical),
		serializeVector(m.Embeddings.Content),
		serializeVector(m.Embeddings.Context),
		serializeVector(m.Embeddings.Metadata),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: upsert memorygram %s: %v", storage.ErrPersistence, m.ID, err)
	}

	return m, nil
}

// UpsertAssociation creates or updates the (fromID, toID, relType) edge.
// Repeated calls update the weight in place; the UNIQUE constraint on the
// triple guarantees at most one active edge.
func (s *MemoryStore) UpsertAssociation(ctx context.Context, fromID, toID, relType string, weight float64) (*types.Association, error) {
	if fromID == "" || toID == "" || relType == "" {
		return nil, fmt.Errorf("%w: from, to and type are required", types.ErrInvalidInput)
	}

	// Both endpoints must exist before an edge can reference them.
	for _, id := range []string{fromID, toID} {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, fmt.Errorf("association endpoint %s: %w", id, err)
		}
	}

	now := time.Now().UTC()
	assoc := &types.Association{
		ID:        "assoc:" + uuid.NewString(),
		FromID:    fromID,
		ToID:      toID,
		Type:      relType,
		Weight:    weight,
		CreatedAt: now,
		UpdatedAt: now,
		Active:    true,
	}

	const query = `
		INSERT INTO associations (id, from_id, to_id, type, weight, created_at, updated_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(from_id, to_id, type) DO UPDATE SET
			weight     = excluded.weight,
			updated_at = excluded.updated_at,
			active     = 1
	`
	if _, err := s.db.ExecContext(ctx, query,
		assoc.ID, fromID, toID, relType, weight, now, now); err != nil {
		return nil, fmt.Errorf("%w: upsert association %s->%s: %v", storage.ErrPersistence, fromID, toID, err)
	}

	// Read back so the caller sees the surviving row's id and created_at.
	const readBack = `
		SELECT id, weight, created_at, updated_at, active
		FROM associations WHERE from_id = ? AND to_id = ? AND type = ?
	`
	var active int
	row := s.db.QueryRowContext(ctx, readBack, fromID, toID, relType)
	if err := row.Scan(&assoc.ID, &assoc.Weight, &assoc.CreatedAt, &assoc.UpdatedAt, &active); err != nil {
		return nil, fmt.Errorf("%w: read association %s->%s: %v", storage.ErrPersistence, fromID, toID, err)
	}
	assoc.Active = active != 0

	return assoc, nil
}

// Get retrieves a memorygram by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*types.Memorygram, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", types.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+memorygramColumns+`
		FROM memorygrams WHERE id = ?`, id)

	m, err := scanMemorygram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memorygram %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get memorygram %s: %v", storage.ErrPersistence, id, err)
	}
	return m, nil
}

// FindSimilar ranks memorygrams by cosine similarity against the query vector.
// Each memorygram's score is the best similarity across its four facet
// vectors. Candidates are loaded newest-first up to vectorSearchMaxCandidates.
func (s *MemoryStore) FindSimilar(ctx context.Context, vector []float32, topK int) ([]storage.ScoredMemorygram, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", types.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memorygramColumns+`
		FROM memorygrams
		WHERE vec_topical IS NOT NULL OR vec_content IS NOT NULL
		   OR vec_context IS NOT NULL OR vec_metadata IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT ?`, vectorSearchMaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", storage.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	var results []storage.ScoredMemorygram
	for rows.Next() {
		m, err := scanMemorygram(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: vector search scan: %v", storage.ErrPersistence, err)
		}

		best := 0.0
		for _, facet := range m.Embeddings.Vectors() {
			if sim := cosineSimilarity(vector, facet); sim > best {
				best = sim
			}
		}
		results = append(results, storage.ScoredMemorygram{Memorygram: m, Score: best})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: vector search rows: %v", storage.ErrPersistence, err)
	}

	storage.SortScored(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// GetByChatID returns the chat's memorygrams ordered by the previous/next
// chain. Experience nodes carry the chat id but are not part of the chain and
// are excluded.
func (s *MemoryStore) GetByChatID(ctx context.Context, chatID string) ([]*types.Memorygram, error) {
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat id is required", types.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memorygramColumns+`
		FROM memorygrams
		WHERE chat_id = ? AND type != ?`, chatID, string(types.TypeExperience))
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
	id, content, type, subtype, source, timestamp,
	created_at, updated_at, chat_id, previous_id, next_id, sequence,
	vec_topical, vec_content, vec_context, vec_metadata
`

// rowScanner abstracts *sql.Row and *sql.Rows for scanMemorygram.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemorygram(row rowScanner) (*types.Memorygram, error) {
	var (
		m        types.Memorygram
		memType  string
		topical  []byte
		content  []byte
		context_ []byte
		metadata []byte
	)

	err := row.Scan(
		&m.ID, &m.Content, &memType, &m.Subtype, &m.Source, &m.Timestamp,
		&m.CreatedAt, &m.UpdatedAt, &m.ChatID, &m.PreviousID, &m.NextID, &m.Sequence,
		&topical, &content, &context_, &metadata,
	)
	if err != nil {
		return nil, err
	}

	m.Type = types.MemorygramType(memType)
	if m.Embeddings.Topical, err = deserializeVector(topical); err != nil {
		return nil, err
	}
	if m.Embeddings.Content, err = deserializeVector(content); err != nil {
		return nil, err
	}
	if m.Embeddings.Context, err = deserializeVector(context_); err != nil {
		return nil, err
	}
	if m.Embeddings.Metadata, err = deserializeVector(metadata); err != nil {
		return nil, err
	}
	return &m, nil
}
