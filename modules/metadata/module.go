// Package metadata answers read-only queries about what the bot currently
// knows of a community and its members.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"anthill/pkg/anthill"
)

const (
	whoisCommandName     = "whois"
	communityCommandName = "community"
)

// Option mutates metadata module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing the default.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// Module serves the /whois and /community commands from cache state only.
// It never touches the store, so answers reflect what has been observed
// and made durable, not the platform's full picture.
type Module struct {
	logger     *slog.Logger
	cache      anthill.GuildCache
	dispatcher anthill.OutboundDispatcher
}

// New creates a metadata module.
func New(options ...Option) *Module {
	module := &Module{
		logger: slog.Default(),
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "metadata"
}

// Spec declares the metadata commands this module owns.
func (m *Module) Spec() anthill.ModuleSpec {
	return anthill.ModuleSpec{
		Commands: []anthill.CommandSpec{
			{
				Name:        whoisCommandName,
				Description: "show what is known about one member",
				Usage:       "/whois <user-id>",
			},
			{
				Name:        communityCommandName,
				Description: "show watch mode and counts for this community",
				Usage:       "/community",
			},
		},
	}
}

// OnRegister resolves dependencies and subscribes to this module's commands.
func (m *Module) OnRegister(ctx context.Context, runtime anthill.ModuleRuntime) error {
	var err error
	if m.cache, err = anthill.ResolveAs[anthill.GuildCache](runtime.Services(), anthill.ServiceGuildCache); err != nil {
		return fmt.Errorf("metadata resolve guild cache: %w", err)
	}
	if m.dispatcher, err = anthill.ResolveAs[anthill.OutboundDispatcher](runtime.Services(), anthill.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("metadata resolve outbound dispatcher: %w", err)
	}

	if _, err = runtime.Subscribe(ctx, anthill.SubscriptionSpec{
		Name: "metadata-commands",
		Filter: anthill.InterestSet{
			Kinds:        []anthill.EventKind{anthill.EventKindCommandReceived},
			CommandNames: []string{whoisCommandName, communityCommandName},
		},
	}, m.handleCommand); err != nil {
		return fmt.Errorf("metadata subscribe commands: %w", err)
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

func (m *Module) handleCommand(ctx context.Context, event *anthill.Event) error {
	if event == nil || event.Command == nil {
		return nil
	}

	switch event.Command.Name {
	case whoisCommandName:
		return m.handleWhois(ctx, event)
	case communityCommandName:
		return m.handleCommunity(ctx, event)
	default:
		return nil
	}
}

func (m *Module) handleWhois(ctx context.Context, event *anthill.Event) error {
	args := event.Command.Args()
	if len(args) != 1 {
		return m.reply(ctx, event, "Usage: /whois <user-id>")
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return m.reply(ctx, event, "Usage: /whois <user-id>")
	}

	if !m.cache.HasMember(event.CommunityID, userID) {
		return m.reply(ctx, event, fmt.Sprintf("User %d has not been seen in this community.", userID))
	}

	return m.reply(ctx, event, fmt.Sprintf("User %d is a recorded member of community %d.", userID, event.CommunityID))
}

func (m *Module) handleCommunity(ctx context.Context, event *anthill.Event) error {
	watched, known := m.cache.WatchMode(event.CommunityID)
	if !known {
		return m.reply(ctx, event, "This community has not been recorded yet.")
	}

	var summary strings.Builder
	summary.WriteString(fmt.Sprintf("Community %d\n", event.CommunityID))
	if watched {
		summary.WriteString("Watch mode: on\n")
	} else {
		summary.WriteString("Watch mode: off\n")
	}
	summary.WriteString(fmt.Sprintf("Channels seen: %d\n", m.cache.ChannelCount(event.CommunityID)))
	summary.WriteString(fmt.Sprintf("Members seen: %d", m.cache.MemberCount(event.CommunityID)))

	return m.reply(ctx, event, summary.String())
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
		return fmt.Errorf("metadata reply: %w", err)
	}

	return nil
}

var _ anthill.Module = (*Module)(nil)
