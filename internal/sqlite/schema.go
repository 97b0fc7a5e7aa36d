package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS posts (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    uri          TEXT NOT NULL UNIQUE,
    cid          TEXT NOT NULL,
    reply_parent TEXT,
    reply_root   TEXT,
    indexed_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_feed_order ON posts(indexed_at DESC, cid DESC);

CREATE TABLE IF NOT EXISTS post_vectors (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    post_id     INTEGER NOT NULL UNIQUE REFERENCES posts(id),
    post_text   TEXT NOT NULL,
    post_vector BLOB NOT NULL,
    post_dim    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
    did              TEXT PRIMARY KEY,
    whitelist_text   TEXT NOT NULL DEFAULT '',
    whitelist_urls   TEXT NOT NULL DEFAULT '[]',
    whitelist_vector BLOB,
    whitelist_dim    INTEGER NOT NULL DEFAULT 0,
    blacklist_text   TEXT NOT NULL DEFAULT '',
    blacklist_urls   TEXT NOT NULL DEFAULT '[]',
    blacklist_vector BLOB,
    blacklist_dim    INTEGER NOT NULL DEFAULT 0,
    modified_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS subscription_state (
    service    TEXT PRIMARY KEY,
    cursor     INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`
