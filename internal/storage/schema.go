package storage

const schemaSQL = `
-- One row per request. unique_key is the sole deduplication axis; order_no
-- carries queue position (negative for forefront inserts so that ascending
-- order puts the most recent forefront request first).
CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    unique_key TEXT UNIQUE NOT NULL,
    url TEXT NOT NULL,
    method TEXT NOT NULL DEFAULT 'GET',
    payload BLOB,
    headers TEXT,
    user_data TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_messages TEXT,
    no_retry INTEGER NOT NULL DEFAULT 0,
    order_no INTEGER NOT NULL,
    handled_at DATETIME,
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Head listing walks pending requests in queue order.
CREATE INDEX IF NOT EXISTS idx_requests_pending ON requests(order_no) WHERE handled_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_requests_unique_key ON requests(unique_key);

-- Queue-wide metadata as key-value pairs (modified_at and friends).
CREATE TABLE IF NOT EXISTS queue_meta (
    key TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL
);
`
