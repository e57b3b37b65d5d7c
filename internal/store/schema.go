package store

// schema is applied once per connection via Open. Every statement is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE TRIGGER IF NOT EXISTS) so
// opening an existing run store never fails on re-application.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	spec_path          TEXT NOT NULL,
	effort             TEXT NOT NULL,
	phase              TEXT NOT NULL,
	config_json        TEXT NOT NULL DEFAULT '{}',
	analysis_json      TEXT NOT NULL DEFAULT '{}',
	was_empty_project  INTEGER NOT NULL DEFAULT 0,
	pending_review     INTEGER NOT NULL DEFAULT 0,
	review_type        TEXT NOT NULL DEFAULT '',
	revision_count     INTEGER NOT NULL DEFAULT 0,
	cost_total         REAL NOT NULL DEFAULT 0,
	cost_limits_json   TEXT NOT NULL DEFAULT '{}',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS phase_history (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	phase      TEXT NOT NULL,
	success    INTEGER NOT NULL,
	summary    TEXT NOT NULL DEFAULT '',
	cost       REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS tasks (
	run_id               TEXT NOT NULL REFERENCES runs(id),
	id                   TEXT NOT NULL,
	title                TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL,
	estimated_iterations INTEGER NOT NULL DEFAULT 0,
	assigned_loop        TEXT NOT NULL DEFAULT '',
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS task_deps (
	run_id             TEXT NOT NULL REFERENCES runs(id),
	task_id            TEXT NOT NULL,
	depends_on_task_id TEXT NOT NULL,
	PRIMARY KEY (run_id, task_id, depends_on_task_id)
);

CREATE TABLE IF NOT EXISTS plan_groups (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	group_index INTEGER NOT NULL,
	task_id     TEXT NOT NULL,
	PRIMARY KEY (run_id, group_index, task_id)
);

CREATE TABLE IF NOT EXISTS loops (
	run_id                    TEXT NOT NULL REFERENCES runs(id),
	id                        TEXT NOT NULL,
	task_ids_json             TEXT NOT NULL DEFAULT '[]',
	iteration                 INTEGER NOT NULL DEFAULT 0,
	max_iterations            INTEGER NOT NULL DEFAULT 0,
	review_interval           INTEGER NOT NULL DEFAULT 0,
	last_checkpoint_review_at INTEGER NOT NULL DEFAULT 0,
	status                    TEXT NOT NULL,
	stuck_json                TEXT NOT NULL DEFAULT '{}',
	worktree_path             TEXT NOT NULL DEFAULT '',
	originating_phase         TEXT NOT NULL DEFAULT '',
	review_status             TEXT NOT NULL DEFAULT '',
	last_review_id            TEXT NOT NULL DEFAULT '',
	revision_attempts         INTEGER NOT NULL DEFAULT 0,
	created_at                TEXT NOT NULL,
	updated_at                TEXT NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS context (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	type        TEXT NOT NULL,
	content     TEXT NOT NULL,
	task_id     TEXT NOT NULL DEFAULT '',
	loop_id     TEXT NOT NULL DEFAULT '',
	file_path   TEXT NOT NULL DEFAULT '',
	line_number INTEGER NOT NULL DEFAULT 0,
	dedupe_key  TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_context_dedupe ON context(run_id, dedupe_key);
CREATE INDEX IF NOT EXISTS idx_context_run_type ON context(run_id, type, created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS context_fts USING fts5(
	content,
	content='context',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS context_ai AFTER INSERT ON context BEGIN
	INSERT INTO context_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TRIGGER IF NOT EXISTS context_ad AFTER DELETE ON context BEGIN
	INSERT INTO context_fts(context_fts, rowid, content) VALUES('delete', old.rowid, old.content);
END;

CREATE TRIGGER IF NOT EXISTS context_au AFTER UPDATE ON context BEGIN
	INSERT INTO context_fts(context_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	INSERT INTO context_fts(rowid, content) VALUES (new.rowid, new.content);
END;

CREATE TABLE IF NOT EXISTS costs (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	phase      TEXT NOT NULL DEFAULT '',
	loop_id    TEXT NOT NULL DEFAULT '',
	amount_usd REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_costs_run ON costs(run_id);
`
