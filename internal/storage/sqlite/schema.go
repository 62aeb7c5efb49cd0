package sqlite

// Schema defines the SQLite database schema for the memory graph.
// Facet vectors are stored as little-endian float32 BLOBs, one column per
// facet, so the record shape stays fixed at four vectors per memorygram.
const Schema = `
CREATE TABLE IF NOT EXISTS memorygrams (
	id           TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	type         TEXT NOT NULL,
	subtype      TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	timestamp    INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	chat_id      TEXT NOT NULL DEFAULT '',
	previous_id  TEXT NOT NULL DEFAULT '',
	next_id      TEXT NOT NULL DEFAULT '',
	sequence     INTEGER NOT NULL DEFAULT 0,
	vec_topical  BLOB,
	vec_content  BLOB,
	vec_context  BLOB,
	vec_metadata BLOB
);

CREATE INDEX IF NOT EXISTS idx_memorygrams_chat_id ON memorygrams(chat_id);
CREATE INDEX IF NOT EXISTS idx_memorygrams_updated_at ON memorygrams(updated_at);

CREATE TABLE IF NOT EXISTS associations (
	id         TEXT PRIMARY KEY,
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	type       TEXT NOT NULL,
	weight     REAL NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1,
	UNIQUE(from_id, to_id, type)
);

CREATE INDEX IF NOT EXISTS idx_associations_from_id ON associations(from_id);
CREATE INDEX IF NOT EXISTS idx_associations_to_id ON associations(to_id);
`
