package serverlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"

	"anthill/pkg/anthill"
)

const defaultLogReadLimit = 50

// CoordinatorOption mutates coordinator configuration.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger injects a logger directly, bypassing the default.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(coordinator *Coordinator) {
		if logger != nil {
			coordinator.logger = logger
		}
	}
}

// Coordinator is the single write path to the guild store.
//
// Writes cascade: a log row is only inserted after its community, channel,
// and member rows are known durable, and the cache is updated right after
// each successful store write, never before. There is no cross-row
// transaction; racing cascades for the same never-seen parents are
// reconciled by treating a duplicate-key insert as the other worker's win.
type Coordinator struct {
	store  anthill.GuildStore
	cache  anthill.GuildCache
	logger *slog.Logger

	entriesLogged *metrics.Counter
	parentRaces   *metrics.Counter
}

// NewCoordinator creates a write coordinator over a loaded cache.
func NewCoordinator(store anthill.GuildStore, cache anthill.GuildCache, options ...CoordinatorOption) *Coordinator {
	coordinator := &Coordinator{
		store:         store,
		cache:         cache,
		logger:        slog.Default(),
		entriesLogged: metrics.GetOrCreateCounter("anthill_serverlog_entries_total"),
		parentRaces:   metrics.GetOrCreateCounter("anthill_serverlog_parent_races_total"),
	}
	for _, option := range options {
		option(coordinator)
	}

	return coordinator
}

// LogMessage appends one log row after ensuring its parent rows exist.
//
// A store failure anywhere in the cascade aborts the call without retries.
// Parents created before the failure stay durable; they are idempotent
// facts and the next cascade will simply find them in the cache.
func (c *Coordinator) LogMessage(ctx context.Context, entry anthill.LogEntry) error {
	entry.LoggedAt = anthill.NormalizeLogTime(entry.LoggedAt)
	if err := entry.Validate(); err != nil {
		return err
	}

	if err := c.ensureCommunity(ctx, entry.CommunityID); err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	if err := c.ensureChannel(ctx, entry.CommunityID, entry.ChannelID); err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	if err := c.ensureMember(ctx, entry.CommunityID, entry.UserID); err != nil {
		return fmt.Errorf("log message: %w", err)
	}

	// Unlike parent inserts, a duplicate log row is a real failure and
	// surfaces to the caller.
	if err := c.store.InsertLogEntry(ctx, entry); err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	c.entriesLogged.Inc()

	return nil
}

// SetWatchMode flips the logging flag, creating the community row with the
// requested mode when it is not yet tracked.
func (c *Coordinator) SetWatchMode(ctx context.Context, communityID int64, enabled bool) error {
	if _, known := c.cache.WatchMode(communityID); !known {
		err := c.store.InsertCommunity(ctx, anthill.Community{ID: communityID, WatchMode: enabled})
		switch {
		case err == nil:
			c.cache.RecordCommunity(anthill.Community{ID: communityID, WatchMode: enabled})
			return nil
		case errors.Is(err, anthill.ErrDuplicateRecord):
			// The row exists but the cache missed it. Record existence and
			// fall through to the update path.
			c.parentRaces.Inc()
			c.cache.RecordCommunity(anthill.Community{ID: communityID})
		default:
			return fmt.Errorf("set watch mode: %w", err)
		}
	}

	if err := c.store.UpdateWatchMode(ctx, communityID, enabled); err != nil {
		return fmt.Errorf("set watch mode: %w", err)
	}
	c.cache.SetWatchMode(communityID, enabled)

	return nil
}

// EnsureCommunity makes one community row durable with logging disabled.
func (c *Coordinator) EnsureCommunity(ctx context.Context, communityID int64) error {
	if err := c.ensureCommunity(ctx, communityID); err != nil {
		return fmt.Errorf("ensure community: %w", err)
	}
	return nil
}

// AddAlias records one catalog alias. A duplicate alias surfaces to the
// caller as ErrDuplicateRecord; only parent creation tolerates duplicates.
func (c *Coordinator) AddAlias(ctx context.Context, alias anthill.CatalogAlias) error {
	if strings.TrimSpace(alias.Alias) == "" || strings.TrimSpace(alias.Department) == "" {
		return fmt.Errorf("add alias: empty alias or department: %w", anthill.ErrInvalidArgument)
	}

	if err := c.ensureCommunity(ctx, alias.CommunityID); err != nil {
		return fmt.Errorf("add alias: %w", err)
	}
	if err := c.store.InsertAlias(ctx, alias); err != nil {
		return fmt.Errorf("add alias: %w", err)
	}
	c.cache.RecordAlias(alias)

	return nil
}

// AddVoiceLink records one voice link, creating the community first.
func (c *Coordinator) AddVoiceLink(ctx context.Context, link anthill.VoiceLink) error {
	if link.VoiceChannelID == 0 || link.TextChannelID == 0 {
		return fmt.Errorf("add voice link: missing channel identifiers: %w", anthill.ErrInvalidArgument)
	}

	if err := c.ensureCommunity(ctx, link.CommunityID); err != nil {
		return fmt.Errorf("add voice link: %w", err)
	}
	if err := c.store.InsertVoiceLink(ctx, link); err != nil {
		return fmt.Errorf("add voice link: %w", err)
	}
	c.cache.RecordVoiceLink(link)

	return nil
}

// UserLog reads recent log rows for one user, newest first. Log reads are
// read-through: log volume is unbounded and never cached.
func (c *Coordinator) UserLog(ctx context.Context, communityID, userID int64, limit int) ([]anthill.LogEntry, error) {
	if limit <= 0 {
		limit = defaultLogReadLimit
	}
	return c.store.UserLog(ctx, communityID, userID, limit)
}

// ChannelLog reads recent log rows for one channel, newest first.
func (c *Coordinator) ChannelLog(ctx context.Context, communityID, channelID int64, limit int) ([]anthill.LogEntry, error) {
	if limit <= 0 {
		limit = defaultLogReadLimit
	}
	return c.store.ChannelLog(ctx, communityID, channelID, limit)
}

func (c *Coordinator) ensureCommunity(ctx context.Context, communityID int64) error {
	if c.cache.HasCommunity(communityID) {
		return nil
	}

	community := anthill.Community{ID: communityID}
	if err := c.store.InsertCommunity(ctx, community); err != nil {
		if !errors.Is(err, anthill.ErrDuplicateRecord) {
			return err
		}
		c.parentRaces.Inc()
	}
	c.cache.RecordCommunity(community)

	return nil
}

func (c *Coordinator) ensureChannel(ctx context.Context, communityID, channelID int64) error {
	if c.cache.HasChannel(communityID, channelID) {
		return nil
	}

	channel := anthill.Channel{CommunityID: communityID, ID: channelID}
	if err := c.store.InsertChannel(ctx, channel); err != nil {
		if !errors.Is(err, anthill.ErrDuplicateRecord) {
			return err
		}
		c.parentRaces.Inc()
	}
	c.cache.RecordChannel(channel)

	return nil
}

func (c *Coordinator) ensureMember(ctx context.Context, communityID, userID int64) error {
	if c.cache.HasMember(communityID, userID) {
		return nil
	}

	member := anthill.Member{CommunityID: communityID, UserID: userID}
	if err := c.store.InsertMember(ctx, member); err != nil {
		if !errors.Is(err, anthill.ErrDuplicateRecord) {
			return err
		}
		c.parentRaces.Inc()
	}
	c.cache.RecordMember(member)

	return nil
}

var _ anthill.WriteCoordinator = (*Coordinator)(nil)
