// Package serverlog owns message activity logging. It projects message
// lifecycle events into the append-only log through the write coordinator
// and exposes the retrieval commands for moderators.
package serverlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"anthill/pkg/anthill"
)

const (
	watchCommandName      = "watch"
	userLogCommandName    = "userlog"
	channelLogCommandName = "channellog"

	storeUnavailableReply = "Logging is unavailable right now, try again later."
)

// Option mutates serverlog module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing the default.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// Module logs message activity for watched communities and serves the
// watch/userlog/channellog commands.
type Module struct {
	logger      *slog.Logger
	cache       anthill.GuildCache
	coordinator anthill.WriteCoordinator
	dispatcher  anthill.OutboundDispatcher
	pager       anthill.Pager
	recent      *recentMessages
}

// New creates a serverlog module with default configuration.
func New(options ...Option) *Module {
	module := &Module{
		logger: slog.Default(),
		recent: newRecentMessages(recentMessageCapacity),
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "serverlog"
}

// Spec declares the moderation commands this module owns.
func (m *Module) Spec() anthill.ModuleSpec {
	return anthill.ModuleSpec{
		Commands: []anthill.CommandSpec{
			{
				Name:        watchCommandName,
				Description: "enable or disable message logging for this community",
				Usage:       "/watch on|off",
			},
			{
				Name:        userLogCommandName,
				Description: "show recent logged messages for one user",
				Usage:       "/userlog <user-id> [--limit <n>]",
				Options: []anthill.CommandOptionSpec{
					{Name: "limit", Alias: "l", HasValue: true, Description: "maximum entries to fetch"},
				},
			},
			{
				Name:        channelLogCommandName,
				Description: "show recent logged messages for one channel",
				Usage:       "/channellog [channel-id] [--limit <n>]",
				Options: []anthill.CommandOptionSpec{
					{Name: "limit", Alias: "l", HasValue: true, Description: "maximum entries to fetch"},
				},
			},
		},
	}
}

// OnRegister resolves dependencies and subscribes to message lifecycle,
// community join, and command events.
func (m *Module) OnRegister(ctx context.Context, runtime anthill.ModuleRuntime) error {
	var err error
	if m.cache, err = anthill.ResolveAs[anthill.GuildCache](runtime.Services(), anthill.ServiceGuildCache); err != nil {
		return fmt.Errorf("serverlog resolve guild cache: %w", err)
	}
	if m.coordinator, err = anthill.ResolveAs[anthill.WriteCoordinator](runtime.Services(), anthill.ServiceWriteCoordinator); err != nil {
		return fmt.Errorf("serverlog resolve write coordinator: %w", err)
	}
	if m.dispatcher, err = anthill.ResolveAs[anthill.OutboundDispatcher](runtime.Services(), anthill.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("serverlog resolve outbound dispatcher: %w", err)
	}
	if m.pager, err = anthill.ResolveAs[anthill.Pager](runtime.Services(), anthill.ServicePager); err != nil {
		return fmt.Errorf("serverlog resolve pager: %w", err)
	}

	if _, err = runtime.Subscribe(ctx, anthill.SubscriptionSpec{
		Name: "serverlog-messages",
		Filter: anthill.InterestSet{
			Kinds: []anthill.EventKind{
				anthill.EventKindMessageCreated,
				anthill.EventKindMessageEdited,
				anthill.EventKindMessageDeleted,
			},
		},
	}, m.handleMessageEvent); err != nil {
		return fmt.Errorf("serverlog subscribe messages: %w", err)
	}

	if _, err = runtime.Subscribe(ctx, anthill.SubscriptionSpec{
		Name: "serverlog-communities",
		Filter: anthill.InterestSet{
			Kinds: []anthill.EventKind{anthill.EventKindCommunityJoined},
		},
	}, m.handleCommunityJoined); err != nil {
		return fmt.Errorf("serverlog subscribe communities: %w", err)
	}

	if _, err = runtime.Subscribe(ctx, anthill.SubscriptionSpec{
		Name: "serverlog-commands",
		Filter: anthill.InterestSet{
			Kinds:        []anthill.EventKind{anthill.EventKindCommandReceived},
			CommandNames: []string{watchCommandName, userLogCommandName, channelLogCommandName},
		},
	}, m.handleCommand); err != nil {
		return fmt.Errorf("serverlog subscribe commands: %w", err)
	}

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

// handleMessageEvent projects one message lifecycle event into log rows.
// Only watched communities are logged, and bot traffic is never logged.
// Snapshots are maintained even for unwatched communities so logging that
// is enabled later still sees pre-edit content.
func (m *Module) handleMessageEvent(ctx context.Context, event *anthill.Event) error {
	if event == nil || event.CommunityID == 0 || event.Actor.IsBot {
		return nil
	}

	entries := m.projectEvent(event)
	if enabled, _ := m.cache.WatchMode(event.CommunityID); !enabled {
		return nil
	}
	for _, entry := range entries {
		if err := m.coordinator.LogMessage(ctx, entry); err != nil {
			if errors.Is(err, anthill.ErrStoreUnavailable) {
				m.logger.Warn("message logging unavailable",
					slog.Int64("community_id", entry.CommunityID),
					slog.Int64("message_id", entry.MessageID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			return fmt.Errorf("serverlog handle %s: %w", event.Kind, err)
		}
	}

	return nil
}

// projectEvent maintains the recent-message snapshots and maps one event to
// its log rows. Edits produce two rows so the before and after content are
// both preserved. Pre-edit content and deletion attribution come from the
// snapshot cache because the gateway cannot provide either.
func (m *Module) projectEvent(event *anthill.Event) []anthill.LogEntry {
	switch event.Kind {
	case anthill.EventKindMessageCreated:
		if event.Message == nil {
			return nil
		}
		m.recent.Remember(event.CommunityID, event.Message.ID, messageSnapshot{
			Author: event.Actor,
			Text:   event.Message.Text,
		})
		return []anthill.LogEntry{{
			MessageID:   event.Message.ID,
			CommunityID: event.CommunityID,
			ChannelID:   event.ChannelID,
			UserID:      event.Actor.ID,
			Content:     event.Message.Text,
			Kind:        anthill.LogKindOriginal,
			LoggedAt:    event.OccurredAt,
		}}
	case anthill.EventKindMessageEdited:
		if event.Mutation == nil {
			return nil
		}
		beforeContent := event.Mutation.Before
		if snapshot, ok := m.recent.Lookup(event.CommunityID, event.Mutation.TargetMessageID); ok && beforeContent == "" {
			beforeContent = snapshot.Text
		}
		m.recent.Remember(event.CommunityID, event.Mutation.TargetMessageID, messageSnapshot{
			Author: event.Actor,
			Text:   event.Mutation.After,
		})
		base := anthill.LogEntry{
			MessageID:   event.Mutation.TargetMessageID,
			CommunityID: event.CommunityID,
			ChannelID:   event.ChannelID,
			UserID:      event.Actor.ID,
			LoggedAt:    event.OccurredAt,
		}
		before, after := base, base
		before.Content = beforeContent
		before.Kind = anthill.LogKindEditBefore
		after.Content = event.Mutation.After
		after.Kind = anthill.LogKindEditAfter
		return []anthill.LogEntry{before, after}
	case anthill.EventKindMessageDeleted:
		if event.Mutation == nil {
			return nil
		}
		snapshot, cached := m.recent.Lookup(event.CommunityID, event.Mutation.TargetMessageID)
		if cached {
			m.recent.Forget(event.CommunityID, event.Mutation.TargetMessageID)
		}
		userID := event.Actor.ID
		if userID == 0 {
			userID = snapshot.Author.ID
		}
		if userID == 0 {
			// Deletions arrive without an actor and a message that left the
			// snapshot cache has no author to attribute the row to. Skip it,
			// matching the original cached-messages-only behavior.
			m.logger.Debug("deletion of uncached message skipped",
				slog.Int64("community_id", event.CommunityID),
				slog.Int64("message_id", event.Mutation.TargetMessageID),
			)
			return nil
		}
		content := event.Mutation.Before
		if content == "" {
			content = snapshot.Text
		}
		return []anthill.LogEntry{{
			MessageID:   event.Mutation.TargetMessageID,
			CommunityID: event.CommunityID,
			ChannelID:   event.ChannelID,
			UserID:      userID,
			Content:     content,
			Kind:        anthill.LogKindDeletion,
			LoggedAt:    event.OccurredAt,
		}}
	default:
		return nil
	}
}

func (m *Module) handleCommunityJoined(ctx context.Context, event *anthill.Event) error {
	if event == nil || event.CommunityID == 0 {
		return nil
	}

	if err := m.coordinator.EnsureCommunity(ctx, event.CommunityID); err != nil {
		return fmt.Errorf("serverlog handle community join: %w", err)
	}
	m.logger.Info("community tracked", slog.Int64("community_id", event.CommunityID))

	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *anthill.Event) error {
	if event == nil || event.Command == nil {
		return nil
	}

	switch event.Command.Name {
	case watchCommandName:
		return m.handleWatch(ctx, event)
	case userLogCommandName:
		return m.handleUserLog(ctx, event)
	case channelLogCommandName:
		return m.handleChannelLog(ctx, event)
	default:
		return nil
	}
}

func (m *Module) handleWatch(ctx context.Context, event *anthill.Event) error {
	args := event.Command.Args()
	if len(args) != 1 {
		return m.reply(ctx, event, "Usage: /watch on|off")
	}

	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return m.reply(ctx, event, "Usage: /watch on|off")
	}

	if err := m.coordinator.SetWatchMode(ctx, event.CommunityID, enabled); err != nil {
		if errors.Is(err, anthill.ErrStoreUnavailable) {
			return m.reply(ctx, event, storeUnavailableReply)
		}
		return fmt.Errorf("serverlog set watch mode: %w", err)
	}

	if enabled {
		return m.reply(ctx, event, "Message logging enabled.")
	}
	return m.reply(ctx, event, "Message logging disabled.")
}

func (m *Module) handleUserLog(ctx context.Context, event *anthill.Event) error {
	args := event.Command.Args()
	if len(args) != 1 {
		return m.reply(ctx, event, "Usage: /userlog <user-id> [--limit <n>]")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return m.reply(ctx, event, "Usage: /userlog <user-id> [--limit <n>]")
	}

	entries, err := m.coordinator.UserLog(ctx, event.CommunityID, userID, commandLimit(event.Command))
	if err != nil {
		if errors.Is(err, anthill.ErrStoreUnavailable) {
			return m.reply(ctx, event, storeUnavailableReply)
		}
		return fmt.Errorf("serverlog user log: %w", err)
	}
	if len(entries) == 0 {
		return m.reply(ctx, event, fmt.Sprintf("No log entries for user %d.", userID))
	}

	return m.openLogPager(ctx, event, fmt.Sprintf("Log for user %d", userID), entries)
}

func (m *Module) handleChannelLog(ctx context.Context, event *anthill.Event) error {
	channelID := event.ChannelID
	args := event.Command.Args()
	switch len(args) {
	case 0:
	case 1:
		parsed, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return m.reply(ctx, event, "Usage: /channellog [channel-id] [--limit <n>]")
		}
		channelID = parsed
	default:
		return m.reply(ctx, event, "Usage: /channellog [channel-id] [--limit <n>]")
	}

	entries, err := m.coordinator.ChannelLog(ctx, event.CommunityID, channelID, commandLimit(event.Command))
	if err != nil {
		if errors.Is(err, anthill.ErrStoreUnavailable) {
			return m.reply(ctx, event, storeUnavailableReply)
		}
		return fmt.Errorf("serverlog channel log: %w", err)
	}
	if len(entries) == 0 {
		return m.reply(ctx, event, fmt.Sprintf("No log entries for channel %d.", channelID))
	}

	return m.openLogPager(ctx, event, fmt.Sprintf("Log for channel %d", channelID), entries)
}

func (m *Module) openLogPager(ctx context.Context, event *anthill.Event, title string, entries []anthill.LogEntry) error {
	_, err := m.pager.Open(ctx, anthill.PagerOpenRequest{
		OwnerID: event.Actor.ID,
		Target: anthill.OutboundTarget{
			CommunityID: event.CommunityID,
			ChannelID:   event.ChannelID,
		},
		Pages:            renderLogPages(title, entries),
		ReplyToMessageID: event.Command.SourceMessageID,
	})
	if err != nil {
		return fmt.Errorf("serverlog open log pager: %w", err)
	}

	return nil
}

// commandLimit reads the optional --limit value; zero lets the coordinator
// apply its default.
func commandLimit(invocation *anthill.CommandInvocation) int {
	option, ok := invocation.Option("limit")
	if !ok {
		return 0
	}
	limit, err := strconv.Atoi(option.Value)
	if err != nil || limit <= 0 {
		return 0
	}
	return limit
}

func (m *Module) reply(ctx context.Context, event *anthill.Event, text string) error {
	_, err := m.dispatcher.SendMessage(ctx, anthill.SendMessageRequest{
		Target: anthill.OutboundTarget{
			CommunityID: event.CommunityID,
			ChannelID:   event.ChannelID,
		},
		Text:             text,
		ReplyToMessageID: event.Command.SourceMessageID,
	})
	if err != nil {
		return fmt.Errorf("serverlog reply: %w", err)
	}

	return nil
}

var _ anthill.Module = (*Module)(nil)
