package anthill

// ServiceGuildCache is the canonical service registry key for the guild cache.
const ServiceGuildCache = "anthill.guild_cache"

// GuildCache is the in-memory projection of the persistent store used for
// hot-path existence checks.
//
// Read methods never touch the store; a miss means "not yet durable", not
// "unknown". Record methods are reserved for the write coordinator and must
// be called only after the corresponding row is durably written, so a positive
// cache answer always implies the row exists.
type GuildCache interface {
	// HasCommunity reports whether the community row is known durable.
	HasCommunity(communityID int64) bool
	// HasChannel reports whether the channel row is known durable.
	HasChannel(communityID, channelID int64) bool
	// HasMember reports whether the member row is known durable.
	HasMember(communityID, userID int64) bool
	// WatchMode returns the community watch flag; known is false when the
	// community itself is not cached.
	WatchMode(communityID int64) (enabled bool, known bool)
	// Alias resolves one community-scoped catalog alias to its department.
	Alias(communityID int64, alias string) (department string, ok bool)
	// Aliases returns all catalog aliases recorded for one community.
	Aliases(communityID int64) []CatalogAlias
	// VoiceLink returns the voice link for one voice channel when recorded.
	VoiceLink(communityID, voiceChannelID int64) (VoiceLink, bool)
	// Communities returns a snapshot of all cached communities.
	Communities() []Community
	// ChannelCount returns the number of cached channels in one community.
	ChannelCount(communityID int64) int
	// MemberCount returns the number of cached members in one community.
	MemberCount(communityID int64) int

	// RecordCommunity marks one community row durable.
	RecordCommunity(community Community)
	// RecordChannel marks one channel row durable.
	RecordChannel(channel Channel)
	// RecordMember marks one member row durable.
	RecordMember(member Member)
	// RecordAlias marks one catalog alias row durable.
	RecordAlias(alias CatalogAlias)
	// RecordVoiceLink marks one voice link row durable.
	RecordVoiceLink(link VoiceLink)
	// SetWatchMode updates the cached watch flag for a known community.
	SetWatchMode(communityID int64, enabled bool)
}
