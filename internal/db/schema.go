package db

// SchemaVersion is the current database schema version
const SchemaVersion = 3

const schema = `
-- Event log: one row per event, in local append order
CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    dedup_key TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    appended_at TEXT NOT NULL
);

-- Client ids appended locally but not yet confirmed by the remote store
CREATE TABLE IF NOT EXISTS pending_uploads (
    client_id TEXT PRIMARY KEY,
    added_at TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT ''
);

-- Single-row high-water mark of the last successful pull
CREATE TABLE IF NOT EXISTS sync_cursor (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    created_at TEXT NOT NULL,
    row_id INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
`

// Migration is one forward schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations lists schema changes after the base schema.
var Migrations = []Migration{
	{
		Version:     2,
		Description: "Add persistent user-visible warnings",
		SQL: `CREATE TABLE IF NOT EXISTS warnings (
    code TEXT PRIMARY KEY,
    message TEXT NOT NULL,
    raised_at TEXT NOT NULL
);`,
	},
	{
		Version:     3,
		Description: "Park pending uploads the remote rejected",
		SQL:         `ALTER TABLE pending_uploads ADD COLUMN rejected_at TEXT NOT NULL DEFAULT '';`,
	},
}
