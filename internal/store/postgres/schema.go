package postgres

import "context"

// schemaStatements creates the store tables when they do not exist yet.
// Primary keys double as the duplicate detectors the write coordinator
// relies on for first-contact reconciliation.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS communities (
		id         BIGINT  PRIMARY KEY,
		watch_mode BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		community_id BIGINT NOT NULL REFERENCES communities (id),
		id           BIGINT NOT NULL,
		PRIMARY KEY (community_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		community_id BIGINT NOT NULL REFERENCES communities (id),
		user_id      BIGINT NOT NULL,
		PRIMARY KEY (community_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_aliases (
		community_id BIGINT NOT NULL REFERENCES communities (id),
		alias        TEXT   NOT NULL,
		department   TEXT   NOT NULL,
		PRIMARY KEY (community_id, alias)
	)`,
	`CREATE TABLE IF NOT EXISTS voice_links (
		community_id     BIGINT NOT NULL REFERENCES communities (id),
		voice_channel_id BIGINT NOT NULL,
		text_channel_id  BIGINT NOT NULL,
		role_id          BIGINT NOT NULL,
		PRIMARY KEY (community_id, voice_channel_id)
	)`,
	`CREATE TABLE IF NOT EXISTS message_log (
		message_id   BIGINT      NOT NULL,
		community_id BIGINT      NOT NULL REFERENCES communities (id),
		channel_id   BIGINT      NOT NULL,
		user_id      BIGINT      NOT NULL,
		content      TEXT        NOT NULL,
		kind         TEXT        NOT NULL,
		logged_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (message_id, kind, logged_at)
	)`,
	`CREATE INDEX IF NOT EXISTS message_log_user_idx
		ON message_log (community_id, user_id, logged_at DESC)`,
	`CREATE INDEX IF NOT EXISTS message_log_channel_idx
		ON message_log (community_id, channel_id, logged_at DESC)`,
}

// EnsureSchema applies the store DDL. Safe to run on every startup.
func EnsureSchema(ctx context.Context, q Querier) error {
	for _, statement := range schemaStatements {
		if _, err := q.Exec(ctx, statement); err != nil {
			return mapError("ensure schema", err)
		}
	}
	return nil
}
