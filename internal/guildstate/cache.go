// Package guildstate holds the in-memory projection of the persistent store.
//
// The cache is loaded exactly once at startup from a full store snapshot and
// afterwards mutated only by the write coordinator, after the corresponding
// row is durable. Reads are O(1) map lookups and never fall through to the
// store, so a miss is always answered from memory.
package guildstate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"anthill/pkg/anthill"
)

type channelKey struct {
	communityID int64
	channelID   int64
}

type memberKey struct {
	communityID int64
	userID      int64
}

type aliasKey struct {
	communityID int64
	alias       string
}

type voiceKey struct {
	communityID    int64
	voiceChannelID int64
}

// Cache is the mutex-guarded guild cache implementation.
//
// The mutex guards map access only; it is never held across store I/O. Races
// between concurrent first-contact cascades are reconciled by the coordinator
// treating duplicate-key inserts as success and re-recording here.
type Cache struct {
	mu          sync.RWMutex
	loaded      bool
	communities map[int64]bool
	channels    map[channelKey]struct{}
	members     map[memberKey]struct{}
	aliases     map[aliasKey]string
	voiceLinks  map[voiceKey]anthill.VoiceLink
}

// NewCache creates an empty, unloaded cache.
func NewCache() *Cache {
	return &Cache{
		communities: make(map[int64]bool),
		channels:    make(map[channelKey]struct{}),
		members:     make(map[memberKey]struct{}),
		aliases:     make(map[aliasKey]string),
		voiceLinks:  make(map[voiceKey]anthill.VoiceLink),
	}
}

// Load populates the cache from one full store snapshot.
//
// It must complete successfully before the process starts serving events; a
// store failure here is fatal for startup and surfaces unchanged.
func (c *Cache) Load(ctx context.Context, store anthill.GuildStore) error {
	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load guild cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return fmt.Errorf("load guild cache: already loaded")
	}

	for _, community := range snapshot.Communities {
		c.communities[community.ID] = community.WatchMode
	}
	for _, channel := range snapshot.Channels {
		c.channels[channelKey{channel.CommunityID, channel.ID}] = struct{}{}
	}
	for _, member := range snapshot.Members {
		c.members[memberKey{member.CommunityID, member.UserID}] = struct{}{}
	}
	for _, alias := range snapshot.Aliases {
		c.aliases[aliasKey{alias.CommunityID, normalizeAlias(alias.Alias)}] = alias.Department
	}
	for _, link := range snapshot.VoiceLinks {
		c.voiceLinks[voiceKey{link.CommunityID, link.VoiceChannelID}] = link
	}
	c.loaded = true

	return nil
}

// HasCommunity reports whether the community row is known durable.
func (c *Cache) HasCommunity(communityID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.communities[communityID]
	return exists
}

// HasChannel reports whether the channel row is known durable.
func (c *Cache) HasChannel(communityID, channelID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.channels[channelKey{communityID, channelID}]
	return exists
}

// HasMember reports whether the member row is known durable.
func (c *Cache) HasMember(communityID, userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exists := c.members[memberKey{communityID, userID}]
	return exists
}

// WatchMode returns the community watch flag and whether the community is known.
func (c *Cache) WatchMode(communityID int64) (enabled bool, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	enabled, known = c.communities[communityID]
	return enabled, known
}

// Alias resolves one community-scoped catalog alias to its department.
func (c *Cache) Alias(communityID int64, alias string) (department string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	department, ok = c.aliases[aliasKey{communityID, normalizeAlias(alias)}]
	return department, ok
}

// Aliases returns all catalog aliases recorded for one community.
func (c *Cache) Aliases(communityID int64) []anthill.CatalogAlias {
	c.mu.RLock()
	defer c.mu.RUnlock()

	aliases := make([]anthill.CatalogAlias, 0)
	for key, department := range c.aliases {
		if key.communityID != communityID {
			continue
		}
		aliases = append(aliases, anthill.CatalogAlias{
			CommunityID: key.communityID,
			Alias:       key.alias,
			Department:  department,
		})
	}

	return aliases
}

// VoiceLink returns the voice link for one voice channel when recorded.
func (c *Cache) VoiceLink(communityID, voiceChannelID int64) (anthill.VoiceLink, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	link, ok := c.voiceLinks[voiceKey{communityID, voiceChannelID}]
	return link, ok
}

// Communities returns a snapshot of all cached communities.
func (c *Cache) Communities() []anthill.Community {
	c.mu.RLock()
	defer c.mu.RUnlock()

	communities := make([]anthill.Community, 0, len(c.communities))
	for id, watchMode := range c.communities {
		communities = append(communities, anthill.Community{ID: id, WatchMode: watchMode})
	}

	return communities
}

// ChannelCount returns the number of cached channels in one community.
func (c *Cache) ChannelCount(communityID int64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for key := range c.channels {
		if key.communityID == communityID {
			count++
		}
	}

	return count
}

// MemberCount returns the number of cached members in one community.
func (c *Cache) MemberCount(communityID int64) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	for key := range c.members {
		if key.communityID == communityID {
			count++
		}
	}

	return count
}

// RecordCommunity marks one community row durable.
func (c *Cache) RecordCommunity(community anthill.Community) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-recording after a lost duplicate-key race must not clobber a watch
	// flag set by the winning writer.
	if _, exists := c.communities[community.ID]; exists {
		return
	}
	c.communities[community.ID] = community.WatchMode
}

// RecordChannel marks one channel row durable.
func (c *Cache) RecordChannel(channel anthill.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.channels[channelKey{channel.CommunityID, channel.ID}] = struct{}{}
}

// RecordMember marks one member row durable.
func (c *Cache) RecordMember(member anthill.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.members[memberKey{member.CommunityID, member.UserID}] = struct{}{}
}

// RecordAlias marks one catalog alias row durable.
func (c *Cache) RecordAlias(alias anthill.CatalogAlias) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.aliases[aliasKey{alias.CommunityID, normalizeAlias(alias.Alias)}] = alias.Department
}

// RecordVoiceLink marks one voice link row durable.
func (c *Cache) RecordVoiceLink(link anthill.VoiceLink) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.voiceLinks[voiceKey{link.CommunityID, link.VoiceChannelID}] = link
}

// SetWatchMode updates the cached watch flag for a known community.
func (c *Cache) SetWatchMode(communityID int64, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.communities[communityID]; !exists {
		return
	}
	c.communities[communityID] = enabled
}

func normalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}

var _ anthill.GuildCache = (*Cache)(nil)
