package relstore

// schema is applied with CREATE TABLE/INDEX IF NOT EXISTS on every open,
// mirroring the reference implementation's schema.sql read-and-exec-script
// approach: one schema generation, no migrations.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	schema_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	layer TEXT NOT NULL,
	kind TEXT NOT NULL,
	summary TEXT NOT NULL,
	body_md_path TEXT NOT NULL,
	body_text TEXT NOT NULL DEFAULT '',
	tags_json TEXT NOT NULL DEFAULT '[]',
	importance_score REAL NOT NULL DEFAULT 0,
	confidence_score REAL NOT NULL DEFAULT 0,
	stability_score REAL NOT NULL DEFAULT 0,
	reuse_count INTEGER NOT NULL DEFAULT 0,
	volatility_score REAL NOT NULL DEFAULT 0,
	cred_refs_json TEXT NOT NULL DEFAULT '[]',
	source_json TEXT NOT NULL DEFAULT '{}',
	scope_json TEXT NOT NULL DEFAULT '{}',
	integrity_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_memories_layer ON memories(layer);
CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at);

CREATE TABLE IF NOT EXISTS memory_refs (
	memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	ref_type TEXT NOT NULL,
	target TEXT NOT NULL,
	note TEXT
);
CREATE INDEX IF NOT EXISTS idx_memory_refs_memory_id ON memory_refs(memory_id);

CREATE TABLE IF NOT EXISTS memory_events (
	event_id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	event_time TEXT NOT NULL,
	memory_id TEXT NOT NULL REFERENCES memories(id),
	payload_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_memory_events_memory_id ON memory_events(memory_id);
CREATE INDEX IF NOT EXISTS idx_memory_events_event_time ON memory_events(event_time);

CREATE TABLE IF NOT EXISTS memory_links (
	src_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	dst_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	weight REAL NOT NULL,
	kind TEXT NOT NULL,
	PRIMARY KEY (src_id, dst_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_memory_links_src ON memory_links(src_id);
CREATE INDEX IF NOT EXISTS idx_memory_links_dst ON memory_links(dst_id);

CREATE TABLE IF NOT EXISTS core_blocks (
	project_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	lines_json TEXT NOT NULL DEFAULT '[]',
	priority INTEGER NOT NULL DEFAULT 0,
	topic TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, session_id, name)
);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	id UNINDEXED,
	summary,
	body_text
);
`
