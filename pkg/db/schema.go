package db

const schema = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- Runs: one row per top-level operation (image batch, page download, video)
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,            -- images, video
    target TEXT NOT NULL,          -- page URL or manifest URL
    output_dir TEXT NOT NULL,
    output_path TEXT,              -- merged video, when there is one
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP,
    total INTEGER DEFAULT 0,
    succeeded INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);

-- Run results: one row per work unit
CREATE TABLE IF NOT EXISTS run_results (
    result_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    url TEXT NOT NULL,
    status TEXT NOT NULL,          -- success, skipped, failed
    status_code INTEGER,
    error_type TEXT,
    error_message TEXT,
    file_path TEXT,
    content_hash TEXT,
    size_bytes INTEGER,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_run_results_run ON run_results(run_id);
CREATE INDEX IF NOT EXISTS idx_run_results_hash ON run_results(content_hash);
CREATE INDEX IF NOT EXISTS idx_run_results_status ON run_results(status);
`
