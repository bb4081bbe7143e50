package anthill

import "context"

// ServiceGuildStore is the canonical service registry key for the persistent store.
const ServiceGuildStore = "anthill.guild_store"

// StoreSnapshot is one full read of every cacheable record kind.
//
// Snapshots feed the in-memory projection exactly once at startup; they are
// never refreshed incrementally from the store afterwards.
type StoreSnapshot struct {
	Communities []Community
	Channels    []Channel
	Members     []Member
	Aliases     []CatalogAlias
	VoiceLinks  []VoiceLink
}

// GuildStore is the persistent storage contract for all tracked record kinds.
//
// Insert operations are single-row and non-transactional with respect to each
// other; callers own referential ordering. Implementations map storage
// failures onto the package error taxonomy: ErrDuplicateRecord for unique-key
// violations, ErrConstraintViolation for other integrity failures, and
// ErrStoreUnavailable for connectivity loss.
type GuildStore interface {
	// Snapshot reads all cacheable records in one pass.
	Snapshot(ctx context.Context) (*StoreSnapshot, error)

	// InsertCommunity creates one community row.
	InsertCommunity(ctx context.Context, community Community) error
	// UpdateWatchMode flips the watch flag on an existing community row.
	UpdateWatchMode(ctx context.Context, communityID int64, enabled bool) error
	// InsertChannel creates one channel row under an existing community.
	InsertChannel(ctx context.Context, channel Channel) error
	// InsertMember creates one member row under an existing community.
	InsertMember(ctx context.Context, member Member) error
	// InsertAlias creates one catalog alias row under an existing community.
	InsertAlias(ctx context.Context, alias CatalogAlias) error
	// InsertVoiceLink creates one voice link row under an existing community.
	InsertVoiceLink(ctx context.Context, link VoiceLink) error
	// InsertLogEntry appends one message log row.
	InsertLogEntry(ctx context.Context, entry LogEntry) error

	// UserLog returns up to limit log rows for one user in one community,
	// newest first.
	UserLog(ctx context.Context, communityID, userID int64, limit int) ([]LogEntry, error)
	// ChannelLog returns up to limit log rows for one channel in one
	// community, newest first.
	ChannelLog(ctx context.Context, communityID, channelID int64, limit int) ([]LogEntry, error)
}
