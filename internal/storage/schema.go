package storage

const schemaStateTables = `
-- Features table
CREATE TABLE IF NOT EXISTS features (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE CHECK(length(name) <= 200),
    scope TEXT NOT NULL DEFAULT 'feature' CHECK(scope IN ('mvp', 'feature')),
    status TEXT NOT NULL DEFAULT 'planning' CHECK(status IN ('planning', 'active', 'complete', 'archived')),
    scale_level INTEGER NOT NULL DEFAULT 2 CHECK(scale_level >= 0 AND scale_level <= 4),
    description TEXT NOT NULL DEFAULT '',
    owner TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_features_status ON features(status);
CREATE INDEX IF NOT EXISTS idx_features_scope ON features(scope);

-- Feature audit trail (append-only)
CREATE TABLE IF NOT EXISTS features_audit (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feature_id INTEGER NOT NULL,
    operation TEXT NOT NULL CHECK(operation IN ('INSERT', 'UPDATE', 'DELETE')),
    old_value TEXT,
    new_value TEXT,
    changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    changed_by TEXT NOT NULL DEFAULT 'engine'
);

CREATE INDEX IF NOT EXISTS idx_features_audit_feature ON features_audit(feature_id);

-- completed_at follows status: set on transition into 'complete',
-- cleared on reopen. Audit rows mirror every row mutation.
CREATE TRIGGER IF NOT EXISTS trg_features_completed
AFTER UPDATE OF status ON features
WHEN NEW.status = 'complete' AND OLD.status != 'complete'
BEGIN
    UPDATE features SET completed_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_features_reopened
AFTER UPDATE OF status ON features
WHEN NEW.status != 'complete' AND OLD.status = 'complete'
BEGIN
    UPDATE features SET completed_at = NULL WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_features_audit_insert
AFTER INSERT ON features
BEGIN
    INSERT INTO features_audit (feature_id, operation, new_value)
    VALUES (NEW.id, 'INSERT', json_object(
        'name', NEW.name, 'scope', NEW.scope, 'status', NEW.status,
        'scale_level', NEW.scale_level, 'owner', NEW.owner));
END;

CREATE TRIGGER IF NOT EXISTS trg_features_audit_update
AFTER UPDATE ON features
BEGIN
    INSERT INTO features_audit (feature_id, operation, old_value, new_value)
    VALUES (NEW.id, 'UPDATE',
        json_object('name', OLD.name, 'scope', OLD.scope, 'status', OLD.status,
            'scale_level', OLD.scale_level, 'owner', OLD.owner),
        json_object('name', NEW.name, 'scope', NEW.scope, 'status', NEW.status,
            'scale_level', NEW.scale_level, 'owner', NEW.owner));
END;

CREATE TRIGGER IF NOT EXISTS trg_features_audit_delete
AFTER DELETE ON features
BEGIN
    INSERT INTO features_audit (feature_id, operation, old_value)
    VALUES (OLD.id, 'DELETE', json_object(
        'name', OLD.name, 'scope', OLD.scope, 'status', OLD.status,
        'scale_level', OLD.scale_level, 'owner', OLD.owner));
END;

-- Epic state table
CREATE TABLE IF NOT EXISTS epic_state (
    epic_num INTEGER PRIMARY KEY CHECK(epic_num >= 1),
    title TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'planning' CHECK(status IN ('planning', 'in_progress', 'completed')),
    total_stories INTEGER NOT NULL DEFAULT 0 CHECK(total_stories >= 0),
    completed_stories INTEGER NOT NULL DEFAULT 0 CHECK(completed_stories >= 0 AND completed_stories <= total_stories),
    progress_percentage REAL NOT NULL DEFAULT 0,
    feature TEXT,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_epic_state_status ON epic_state(status);
CREATE INDEX IF NOT EXISTS idx_epic_state_feature ON epic_state(feature);

-- Story state table
CREATE TABLE IF NOT EXISTS story_state (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    epic_num INTEGER NOT NULL CHECK(epic_num >= 1),
    story_num INTEGER NOT NULL CHECK(story_num >= 1),
    title TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'in_progress', 'blocked', 'testing', 'review', 'completed')),
    assignee TEXT,
    priority TEXT NOT NULL DEFAULT 'P2' CHECK(priority IN ('P0', 'P1', 'P2', 'P3')),
    estimate_hours REAL,
    actual_hours REAL,
    blocked_reason TEXT,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(epic_num, story_num)
);

CREATE INDEX IF NOT EXISTS idx_story_state_epic ON story_state(epic_num);
CREATE INDEX IF NOT EXISTS idx_story_state_status ON story_state(status);
CREATE INDEX IF NOT EXISTS idx_story_state_assignee ON story_state(assignee);

-- Action items table
CREATE TABLE IF NOT EXISTS action_items (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    priority TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('critical', 'high', 'medium', 'low')),
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'in_progress', 'completed')),
    epic_num INTEGER,
    story_num INTEGER,
    assignee TEXT,
    due_date DATETIME,
    promoted_story_num INTEGER,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_action_items_status ON action_items(status);
CREATE INDEX IF NOT EXISTS idx_action_items_epic ON action_items(epic_num);

-- Ceremonies table
CREATE TABLE IF NOT EXISTS ceremonies (
    id TEXT PRIMARY KEY,
    ceremony_type TEXT NOT NULL,
    summary TEXT NOT NULL,
    participants TEXT,
    decisions TEXT,
    action_items TEXT,
    held_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    epic_num INTEGER,
    story_num INTEGER
);

CREATE INDEX IF NOT EXISTS idx_ceremonies_type ON ceremonies(ceremony_type);
CREATE INDEX IF NOT EXISTS idx_ceremonies_epic ON ceremonies(epic_num);

-- Learning index table
CREATE TABLE IF NOT EXISTS learning_index (
    id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    category TEXT NOT NULL CHECK(category IN ('technical', 'process', 'domain', 'architectural', 'team')),
    learning TEXT NOT NULL,
    context TEXT,
    source_type TEXT,
    relevance_score REAL NOT NULL DEFAULT 0.5 CHECK(relevance_score >= 0 AND relevance_score <= 1),
    is_active INTEGER NOT NULL DEFAULT 1,
    superseded_by TEXT REFERENCES learning_index(id),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_learning_category ON learning_index(category);
CREATE INDEX IF NOT EXISTS idx_learning_active ON learning_index(is_active);
`

const schemaWorkflowTables = `
-- Workflow contexts, one row per workflow id, version bumped on every save
CREATE TABLE IF NOT EXISTS workflow_context (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workflow_id TEXT NOT NULL UNIQUE,
    epic_num INTEGER NOT NULL,
    story_num INTEGER,
    feature TEXT,
    workflow_name TEXT NOT NULL DEFAULT '',
    current_phase TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'completed', 'failed', 'paused')),
    context_data TEXT NOT NULL DEFAULT '{}',
    version INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_workflow_context_workflow ON workflow_context(workflow_id);
CREATE INDEX IF NOT EXISTS idx_workflow_context_epic_story ON workflow_context(epic_num, story_num);
CREATE INDEX IF NOT EXISTS idx_workflow_context_status ON workflow_context(status);
CREATE INDEX IF NOT EXISTS idx_workflow_context_created ON workflow_context(created_at);
CREATE INDEX IF NOT EXISTS idx_workflow_context_feature ON workflow_context(feature);

-- Context usage records (append-only). Usage-tracker rows carry
-- context_key/cache_hit; lineage rows carry artifact attribution.
CREATE TABLE IF NOT EXISTS context_usage (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    artifact_type TEXT CHECK(artifact_type IN ('epic', 'story', 'task', 'code', 'test', 'doc', 'other')),
    artifact_id TEXT,
    context_key TEXT,
    document_id TEXT,
    document_path TEXT,
    document_type TEXT,
    document_version TEXT NOT NULL,
    cache_hit INTEGER NOT NULL DEFAULT 0,
    workflow_id TEXT,
    workflow_name TEXT,
    epic INTEGER,
    story INTEGER,
    accessed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_context_usage_artifact ON context_usage(artifact_type, artifact_id);
CREATE INDEX IF NOT EXISTS idx_context_usage_key ON context_usage(context_key);
CREATE INDEX IF NOT EXISTS idx_context_usage_workflow ON context_usage(workflow_id);
CREATE INDEX IF NOT EXISTS idx_context_usage_accessed ON context_usage(accessed_at);
`
