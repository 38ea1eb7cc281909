package sqlite

// schema is the current shape of a fresh store. Older stores are brought
// up to it by the additive migrations in migrations.go.
const schema = `
-- Entities: people, companies, products, groups. Rows are never deleted.
CREATE TABLE IF NOT EXISTS entities (
    slug TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    name_norm TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT 'person',
    status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'inactive', 'merged')),
    is_candidate INTEGER NOT NULL DEFAULT 1,
    merged_into TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    last_seen_at TEXT NOT NULL DEFAULT '',
    CHECK ((status = 'merged' AND merged_into IS NOT NULL) OR (status != 'merged' AND merged_into IS NULL))
);

CREATE INDEX IF NOT EXISTS idx_entities_name_norm ON entities(name_norm);
CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(status, is_candidate);

CREATE TRIGGER IF NOT EXISTS entities_no_delete
BEFORE DELETE ON entities
BEGIN
    SELECT RAISE(ABORT, 'entities are never deleted; merge or deactivate instead');
END;

-- Contact handles (email, messaging ids)
CREATE TABLE IF NOT EXISTS entity_handles (
    kind TEXT NOT NULL,
    value_norm TEXT NOT NULL,
    entity_slug TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (kind, value_norm),
    FOREIGN KEY (entity_slug) REFERENCES entities(slug)
);

CREATE INDEX IF NOT EXISTS idx_entity_handles_slug ON entity_handles(entity_slug);

-- Operator-confirmed aliases
CREATE TABLE IF NOT EXISTS entity_aliases (
    alias_norm TEXT NOT NULL,
    entity_slug TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (alias_norm, entity_slug),
    FOREIGN KEY (entity_slug) REFERENCES entities(slug)
);

-- Raw mention -> entity the resolver created for it
CREATE TABLE IF NOT EXISTS entity_mentions (
    mention_norm TEXT PRIMARY KEY,
    entity_slug TEXT NOT NULL,
    first_seen_at TEXT NOT NULL,
    FOREIGN KEY (entity_slug) REFERENCES entities(slug)
);

-- Source documents
CREATE TABLE IF NOT EXISTS files (
    path TEXT PRIMARY KEY,
    metadata_checksum TEXT NOT NULL DEFAULT '',
    content_checksum TEXT NOT NULL DEFAULT '',
    source_type TEXT NOT NULL DEFAULT '',
    first_seen_at TEXT NOT NULL,
    processed_at TEXT
);

-- Deals
CREATE TABLE IF NOT EXISTS deals (
    slug TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    company_slug TEXT,
    stage TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    FOREIGN KEY (company_slug) REFERENCES entities(slug)
);

CREATE INDEX IF NOT EXISTS idx_deals_company ON deals(company_slug);

-- Interactions (one per processed file)
CREATE TABLE IF NOT EXISTS interactions (
    id TEXT PRIMARY KEY,
    file_path TEXT NOT NULL UNIQUE,
    source_type TEXT NOT NULL CHECK(source_type IN ('call', 'email', 'telegram')),
    title TEXT NOT NULL DEFAULT '',
    occurred_at TEXT NOT NULL,
    deal_slug TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY (file_path) REFERENCES files(path),
    FOREIGN KEY (deal_slug) REFERENCES deals(slug)
);

CREATE INDEX IF NOT EXISTS idx_interactions_deal ON interactions(deal_slug);
CREATE INDEX IF NOT EXISTS idx_interactions_occurred_at ON interactions(occurred_at);

CREATE TABLE IF NOT EXISTS interaction_entities (
    interaction_id TEXT NOT NULL,
    entity_slug TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'participant',
    PRIMARY KEY (interaction_id, entity_slug),
    FOREIGN KEY (interaction_id) REFERENCES interactions(id),
    FOREIGN KEY (entity_slug) REFERENCES entities(slug)
);

CREATE INDEX IF NOT EXISTS idx_interaction_entities_slug ON interaction_entities(entity_slug);

-- Extracted items
CREATE TABLE IF NOT EXISTS extracted_items (
    id TEXT PRIMARY KEY,
    item_type TEXT NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    owner_slug TEXT NOT NULL,
    target_slug TEXT,
    target_name TEXT,
    deal_slug TEXT,
    interaction_id TEXT,
    source_type TEXT NOT NULL CHECK(source_type IN ('call', 'email', 'telegram')),
    source_path TEXT,
    source_message_id TEXT,
    source_quote TEXT,
    source_span TEXT NOT NULL DEFAULT '',
    trust_level TEXT NOT NULL DEFAULT 'medium' CHECK(trust_level IN ('high', 'medium', 'low')),
    trust_reason TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL DEFAULT '',
    occurred_at TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    superseded_by TEXT,
    superseded_at TEXT,
    extraction_key TEXT,
    FOREIGN KEY (owner_slug) REFERENCES entities(slug),
    FOREIGN KEY (target_slug) REFERENCES entities(slug),
    FOREIGN KEY (deal_slug) REFERENCES deals(slug),
    FOREIGN KEY (interaction_id) REFERENCES interactions(id)
);

CREATE INDEX IF NOT EXISTS idx_items_owner ON extracted_items(owner_slug);
CREATE INDEX IF NOT EXISTS idx_items_target ON extracted_items(target_slug);
CREATE INDEX IF NOT EXISTS idx_items_span ON extracted_items(source_path, source_span, item_type, owner_slug);
-- NOTE: idx_items_deal and idx_items_actionable are created by migrations
-- 006_item_deal_column.go and 004_item_supersede_columns.go. Older stores may not
-- have those columns yet when this schema runs.

-- Indexing runs (freshness state)
CREATE TABLE IF NOT EXISTS index_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'success', 'failed')),
    files_seen INTEGER NOT NULL DEFAULT 0,
    items_recorded INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_index_runs_status ON index_runs(status, finished_at);

-- Metadata table (for internal state like schema_version, state_version)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
