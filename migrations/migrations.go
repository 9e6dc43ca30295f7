// Package migrations embeds the schema so binaries do not depend on the
// working directory.
package migrations

import "embed"

// Postgres holds the golang-migrate up/down files.
//
//go:embed *.sql
var Postgres embed.FS

// SQLite is the equivalent schema for the embedded sqlite store.
const SQLite = `
CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    email      TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notifications (
    id          TEXT     PRIMARY KEY,
    user_id     TEXT     NOT NULL,
    type        TEXT     NOT NULL CHECK (type IN ('email', 'in_app')),
    title       TEXT     NOT NULL,
    message     TEXT     NOT NULL,
    metadata    TEXT,
    read        INTEGER  NOT NULL DEFAULT 0,
    status      TEXT     NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent', 'failed')),
    retry_count INTEGER  NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL,
    sent_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_created
    ON notifications (user_id, created_at DESC);
`
