package anthill

import "context"

// ServiceWriteCoordinator is the canonical service registry key for the write coordinator.
const ServiceWriteCoordinator = "anthill.write_coordinator"

// WriteCoordinator mediates every store write so referential integrity and
// cache coherence hold without storage-level transactions.
//
// Log and admin writes cascade: missing parent rows (community, channel,
// member) are created before the dependent row is inserted, and the cache is
// updated only after each row is durable. A duplicate-key failure on a parent
// insert means another worker won the race and is treated as success.
type WriteCoordinator interface {
	// LogMessage appends one message log row, creating missing parents first.
	LogMessage(ctx context.Context, entry LogEntry) error
	// SetWatchMode enables or disables message logging for one community,
	// creating the community row when it is not yet tracked.
	SetWatchMode(ctx context.Context, communityID int64, enabled bool) error
	// EnsureCommunity makes one community row durable with logging disabled.
	EnsureCommunity(ctx context.Context, communityID int64) error
	// AddAlias records one catalog alias, creating the community first.
	AddAlias(ctx context.Context, alias CatalogAlias) error
	// AddVoiceLink records one voice link, creating the community first.
	AddVoiceLink(ctx context.Context, link VoiceLink) error

	// UserLog reads recent log rows for one user, newest first.
	UserLog(ctx context.Context, communityID, userID int64, limit int) ([]LogEntry, error)
	// ChannelLog reads recent log rows for one channel, newest first.
	ChannelLog(ctx context.Context, communityID, channelID int64, limit int) ([]LogEntry, error)
}
