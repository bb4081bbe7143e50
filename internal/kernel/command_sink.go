package kernel

import (
	"context"
	"fmt"
	"strings"

	"anthill/pkg/anthill"
)

type commandRegistration struct {
	moduleName string
	spec       anthill.CommandSpec
}

// registerModuleCommands validates and registers module-owned command specs.
func (k *Kernel) registerModuleCommands(
	_ context.Context,
	moduleName string,
	commands []anthill.CommandSpec,
) error {
	if len(commands) == 0 {
		return nil
	}

	normalized := make([]anthill.CommandSpec, 0, len(commands))
	seenInModule := make(map[string]struct{}, len(commands))
	for index, command := range commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("register command[%d] for module %s: %w", index, moduleName, err)
		}

		command = cloneCommandSpec(command)
		key := commandRegistryKey(command.Name)
		if _, exists := seenInModule[key]; exists {
			return fmt.Errorf(
				"register command /%s for module %s: duplicate declaration",
				key,
				moduleName,
			)
		}
		seenInModule[key] = struct{}{}
		normalized = append(normalized, command)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, command := range normalized {
		key := commandRegistryKey(command.Name)
		existing, exists := k.commands[key]
		if exists {
			return fmt.Errorf(
				"register command /%s for module %s: already registered by module %s",
				key,
				moduleName,
				existing.moduleName,
			)
		}
	}
	for _, command := range normalized {
		k.commands[commandRegistryKey(command.Name)] = commandRegistration{
			moduleName: moduleName,
			spec:       command,
		}
	}

	return nil
}

// unregisterModuleCommands removes every command owned by one module.
func (k *Kernel) unregisterModuleCommands(moduleName string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, registration := range k.commands {
		if registration.moduleName == moduleName {
			delete(k.commands, key)
		}
	}
}

// lookupCommand resolves one command spec by normalized name.
func (k *Kernel) lookupCommand(name string) (anthill.CommandSpec, bool) {
	key := commandRegistryKey(name)

	k.mu.RLock()
	registration, exists := k.commands[key]
	k.mu.RUnlock()
	if !exists {
		return anthill.CommandSpec{}, false
	}

	return cloneCommandSpec(registration.spec), true
}

// newDriverEventSink creates the source-event sink wrapped with command derivation.
func (k *Kernel) newDriverEventSink() anthill.EventSink {
	return &commandDerivingSink{
		base:          k.bus,
		lookupCommand: k.lookupCommand,
		serviceLookup: k.services,
		reportAsync:   k.cfg.onAsyncError,
	}
}

// commandDerivingSink publishes source events and derives command events.
type commandDerivingSink struct {
	base          anthill.EventSink
	lookupCommand func(name string) (anthill.CommandSpec, bool)
	serviceLookup anthill.ServiceRegistry
	reportAsync   func(context.Context, string, error)
}

// Publish forwards one source event and conditionally derives one command event.
func (s *commandDerivingSink) Publish(ctx context.Context, event *anthill.Event) error {
	if event == nil {
		return fmt.Errorf("publish command deriving sink: nil event")
	}
	if s.base == nil {
		return fmt.Errorf("publish command deriving sink: nil base sink")
	}

	if err := s.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}

	if event.Kind != anthill.EventKindMessageCreated || event.Message == nil {
		return nil
	}

	candidate, matched, parseErr := anthill.ParseCommandCandidate(event.Message.Text)
	if !matched {
		return nil
	}

	spec, registered := s.lookupCommand(candidate.Name)
	if !registered {
		return nil
	}
	if parseErr != nil {
		s.replyCommandError(ctx, event, spec, parseErr)
		return nil
	}

	invocation, bindErr := anthill.BindCommand(candidate, spec, event)
	if bindErr != nil {
		s.replyCommandError(ctx, event, spec, bindErr)
		return nil
	}

	commandEvent := derivedCommandEvent(event, invocation)
	if err := s.base.Publish(ctx, commandEvent); err != nil {
		return fmt.Errorf("publish derived command %s: %w", invocation.Name, err)
	}

	return nil
}

func (s *commandDerivingSink) replyCommandError(
	ctx context.Context,
	sourceEvent *anthill.Event,
	spec anthill.CommandSpec,
	parseErr error,
) {
	if s.serviceLookup == nil {
		s.reportAsyncError(
			ctx,
			"command error reply resolve dispatcher",
			fmt.Errorf("service lookup unavailable"),
		)
		return
	}

	dispatcher, err := anthill.ResolveAs[anthill.OutboundDispatcher](
		s.serviceLookup,
		anthill.ServiceOutboundDispatcher,
	)
	if err != nil {
		s.reportAsyncError(ctx, "command error reply resolve dispatcher", err)
		return
	}

	var replyTo int64
	if sourceEvent.Message != nil {
		replyTo = sourceEvent.Message.ID
	}
	_, err = dispatcher.SendMessage(ctx, anthill.SendMessageRequest{
		Target: anthill.OutboundTarget{
			CommunityID: sourceEvent.CommunityID,
			ChannelID:   sourceEvent.ChannelID,
		},
		Text:             formatCommandErrorReply(spec, parseErr),
		ReplyToMessageID: replyTo,
	})
	if err != nil {
		s.reportAsyncError(ctx, "command error reply send", err)
	}
}

func (s *commandDerivingSink) reportAsyncError(ctx context.Context, scope string, err error) {
	if s.reportAsync != nil {
		s.reportAsync(ctx, scope, err)
	}
}

func derivedCommandEvent(
	sourceEvent *anthill.Event,
	invocation anthill.CommandInvocation,
) *anthill.Event {
	message := *sourceEvent.Message

	return &anthill.Event{
		ID:          sourceEvent.ID + "#command",
		Kind:        anthill.EventKindCommandReceived,
		OccurredAt:  sourceEvent.OccurredAt,
		Platform:    sourceEvent.Platform,
		CommunityID: sourceEvent.CommunityID,
		ChannelID:   sourceEvent.ChannelID,
		Actor:       sourceEvent.Actor,
		Message:     &message,
		Command:     cloneCommandInvocation(invocation),
		Metadata:    cloneStringMap(sourceEvent.Metadata),
	}
}

func formatCommandErrorReply(spec anthill.CommandSpec, parseErr error) string {
	if parseErr == nil {
		return commandUsage(spec)
	}

	return fmt.Sprintf("%s\nusage: %s", parseErr.Error(), commandUsage(spec))
}

func commandUsage(spec anthill.CommandSpec) string {
	if spec.Usage != "" {
		return spec.Usage
	}

	usage := anthill.CommandPrefix + normalizeCommandName(spec.Name)
	if len(spec.Options) == 0 {
		return usage
	}

	parts := make([]string, 0, len(spec.Options))
	for _, option := range spec.Options {
		descriptor := commandOptionDescriptor(option)
		if descriptor == "" {
			continue
		}
		if option.Required {
			parts = append(parts, descriptor)
		} else {
			parts = append(parts, "["+descriptor+"]")
		}
	}
	if len(parts) == 0 {
		return usage
	}

	return usage + " " + strings.Join(parts, " ")
}

func commandOptionDescriptor(option anthill.CommandOptionSpec) string {
	name := normalizeCommandName(option.Name)
	alias := normalizeCommandName(option.Alias)
	switch {
	case name != "" && alias != "":
		if option.HasValue {
			return fmt.Sprintf("--%s|-%s <value>", name, alias)
		}
		return fmt.Sprintf("--%s|-%s", name, alias)
	case name != "":
		if option.HasValue {
			return fmt.Sprintf("--%s <value>", name)
		}
		return fmt.Sprintf("--%s", name)
	case alias != "":
		if option.HasValue {
			return fmt.Sprintf("-%s <value>", alias)
		}
		return fmt.Sprintf("-%s", alias)
	default:
		return ""
	}
}

func commandRegistryKey(name string) string {
	return normalizeCommandName(name)
}

func normalizeCommandName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func cloneCommandSpec(spec anthill.CommandSpec) anthill.CommandSpec {
	cloned := spec
	cloned.Name = normalizeCommandName(spec.Name)
	if len(spec.Options) == 0 {
		return cloned
	}

	cloned.Options = append([]anthill.CommandOptionSpec(nil), spec.Options...)
	for index := range cloned.Options {
		cloned.Options[index].Name = normalizeCommandName(cloned.Options[index].Name)
		cloned.Options[index].Alias = normalizeCommandName(cloned.Options[index].Alias)
	}

	return cloned
}

func cloneCommandInvocation(invocation anthill.CommandInvocation) *anthill.CommandInvocation {
	cloned := invocation
	if len(invocation.Options) > 0 {
		cloned.Options = append([]anthill.CommandOption(nil), invocation.Options...)
	}

	return &cloned
}

func cloneStringMap(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}

	cloned := make(map[string]string, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}

	return cloned
}
