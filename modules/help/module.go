// Package help lists every command currently registered with the runtime.
package help

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"anthill/pkg/anthill"
)

const helpCommandName = "help"

// Option mutates help module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing the default.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// Module answers /help from the runtime command catalog, so the listing
// always reflects the modules actually registered in this process.
type Module struct {
	logger     *slog.Logger
	catalog    anthill.CommandCatalog
	dispatcher anthill.OutboundDispatcher
}

// New creates a help module.
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
	return "help"
}

// Spec declares the help command.
func (m *Module) Spec() anthill.ModuleSpec {
	return anthill.ModuleSpec{
		Commands: []anthill.CommandSpec{
			{
				Name:        helpCommandName,
				Description: "list all available commands",
				Usage:       "/help",
			},
		},
	}
}

// OnRegister resolves dependencies and subscribes to the help command.
func (m *Module) OnRegister(ctx context.Context, runtime anthill.ModuleRuntime) error {
	var err error
	if m.catalog, err = anthill.ResolveAs[anthill.CommandCatalog](runtime.Services(), anthill.ServiceCommandCatalog); err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}
	if m.dispatcher, err = anthill.ResolveAs[anthill.OutboundDispatcher](runtime.Services(), anthill.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("help resolve outbound dispatcher: %w", err)
	}

	if _, err = runtime.Subscribe(ctx, anthill.SubscriptionSpec{
		Name: "help-commands",
		Filter: anthill.InterestSet{
			Kinds:        []anthill.EventKind{anthill.EventKindCommandReceived},
			CommandNames: []string{helpCommandName},
		},
	}, m.handleHelp); err != nil {
		return fmt.Errorf("help subscribe commands: %w", err)
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

func (m *Module) handleHelp(ctx context.Context, event *anthill.Event) error {
	if event == nil || event.Command == nil {
		return nil
	}

	registered, err := m.catalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}

	_, err = m.dispatcher.SendMessage(ctx, anthill.SendMessageRequest{
		Target: anthill.OutboundTarget{
			CommunityID: event.CommunityID,
			ChannelID:   event.ChannelID,
		},
		Text:             renderHelp(registered),
		ReplyToMessageID: event.Command.SourceMessageID,
	})
	if err != nil {
		return fmt.Errorf("help reply: %w", err)
	}

	return nil
}

// renderHelp lists commands grouped by module, modules and commands both in
// name order so the listing is stable across restarts.
func renderHelp(registered []anthill.RegisteredCommand) string {
	if len(registered) == 0 {
		return "No commands are registered."
	}

	byModule := make(map[string][]anthill.CommandSpec)
	for _, entry := range registered {
		byModule[entry.ModuleName] = append(byModule[entry.ModuleName], entry.Command)
	}
	moduleNames := make([]string, 0, len(byModule))
	for name := range byModule {
		moduleNames = append(moduleNames, name)
	}
	sort.Strings(moduleNames)

	var listing strings.Builder
	listing.WriteString("Available commands:")
	for _, moduleName := range moduleNames {
		commands := byModule[moduleName]
		sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })

		listing.WriteString("\n\n" + moduleName)
		for _, command := range commands {
			listing.WriteString(fmt.Sprintf("\n  %s", command.Usage))
			if command.Description != "" {
				listing.WriteString(" · " + command.Description)
			}
		}
	}

	return listing.String()
}

var _ anthill.Module = (*Module)(nil)
