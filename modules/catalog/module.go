// Package catalog serves course catalog searches and the community-scoped
// alias and voice link administration commands.
package catalog

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
	coursesCommandName   = "courses"
	aliasCommandName     = "alias"
	voiceLinkCommandName = "voicelink"

	// A search can match hundreds of courses; only the first pages are
	// rendered to keep the session navigable.
	maxCoursePages = 10
)

var validQuarters = map[string]string{
	"fall":   "Fall",
	"winter": "Winter",
	"spring": "Spring",
	"summer": "Summer",
}

// searchClient is the catalog API surface this module needs.
type searchClient interface {
	Search(ctx context.Context, query SearchQuery) ([]Course, error)
}

// Option mutates catalog module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing the default.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// Module owns the /courses search plus alias and voice link registration.
type Module struct {
	logger      *slog.Logger
	client      searchClient
	cache       anthill.GuildCache
	coordinator anthill.WriteCoordinator
	dispatcher  anthill.OutboundDispatcher
	pager       anthill.Pager
}

// New creates a catalog module over the given API client.
func New(client searchClient, options ...Option) *Module {
	module := &Module{
		logger: slog.Default(),
		client: client,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "catalog"
}

// Spec declares the catalog commands this module owns.
func (m *Module) Spec() anthill.ModuleSpec {
	return anthill.ModuleSpec{
		Commands: []anthill.CommandSpec{
			{
				Name:        coursesCommandName,
				Description: "search the course catalog for one term",
				Usage:       "/courses <year> <quarter> [--dept X] [--ge X] [--number X] [--instructor X]",
				Options: []anthill.CommandOptionSpec{
					{Name: "dept", Alias: "d", HasValue: true, Description: "department code or community alias"},
					{Name: "ge", Alias: "g", HasValue: true, Description: "GE category"},
					{Name: "number", Alias: "n", HasValue: true, Description: "course number"},
					{Name: "instructor", Alias: "i", HasValue: true, Description: "instructor last name"},
				},
			},
			{
				Name:        aliasCommandName,
				Description: "register a department alias for this community",
				Usage:       "/alias <alias> <department>",
			},
			{
				Name:        voiceLinkCommandName,
				Description: "link a voice channel to a text channel and role",
				Usage:       "/voicelink <voice-id> <text-id> <role-id>",
			},
		},
	}
}

// OnRegister resolves dependencies and subscribes to this module's commands.
func (m *Module) OnRegister(ctx context.Context, runtime anthill.ModuleRuntime) error {
	var err error
	if m.cache, err = anthill.ResolveAs[anthill.GuildCache](runtime.Services(), anthill.ServiceGuildCache); err != nil {
		return fmt.Errorf("catalog resolve guild cache: %w", err)
	}
	if m.coordinator, err = anthill.ResolveAs[anthill.WriteCoordinator](runtime.Services(), anthill.ServiceWriteCoordinator); err != nil {
		return fmt.Errorf("catalog resolve write coordinator: %w", err)
	}
	if m.dispatcher, err = anthill.ResolveAs[anthill.OutboundDispatcher](runtime.Services(), anthill.ServiceOutboundDispatcher); err != nil {
		return fmt.Errorf("catalog resolve outbound dispatcher: %w", err)
	}
	if m.pager, err = anthill.ResolveAs[anthill.Pager](runtime.Services(), anthill.ServicePager); err != nil {
		return fmt.Errorf("catalog resolve pager: %w", err)
	}

	if _, err = runtime.Subscribe(ctx, anthill.SubscriptionSpec{
		Name: "catalog-commands",
		Filter: anthill.InterestSet{
			Kinds:        []anthill.EventKind{anthill.EventKindCommandReceived},
			CommandNames: []string{coursesCommandName, aliasCommandName, voiceLinkCommandName},
		},
	}, m.handleCommand); err != nil {
		return fmt.Errorf("catalog subscribe commands: %w", err)
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
	case coursesCommandName:
		return m.handleCourses(ctx, event)
	case aliasCommandName:
		return m.handleAlias(ctx, event)
	case voiceLinkCommandName:
		return m.handleVoiceLink(ctx, event)
	default:
		return nil
	}
}

func (m *Module) handleCourses(ctx context.Context, event *anthill.Event) error {
	query, problem := m.buildSearchQuery(event)
	if problem != "" {
		return m.reply(ctx, event, problem)
	}

	courses, err := m.client.Search(ctx, query)
	if err != nil {
		m.logger.Warn("catalog search failed",
			slog.Int64("community_id", event.CommunityID),
			slog.String("error", err.Error()),
		)
		return m.reply(ctx, event, "Catalog search failed, try again later.")
	}
	if len(courses) == 0 {
		return m.reply(ctx, event, "No courses matched that search.")
	}

	truncated := len(courses) > maxCoursePages
	if truncated {
		courses = courses[:maxCoursePages]
	}

	_, err = m.pager.Open(ctx, anthill.PagerOpenRequest{
		OwnerID: event.Actor.ID,
		Target: anthill.OutboundTarget{
			CommunityID: event.CommunityID,
			ChannelID:   event.ChannelID,
		},
		Pages:            renderCoursePages(courses, truncated),
		ReplyToMessageID: event.Command.SourceMessageID,
	})
	if err != nil {
		return fmt.Errorf("catalog open course pager: %w", err)
	}

	return nil
}

// buildSearchQuery validates the invocation and resolves department
// aliases. It returns a user-facing problem string for invalid input.
func (m *Module) buildSearchQuery(event *anthill.Event) (SearchQuery, string) {
	args := event.Command.Args()
	if len(args) != 2 {
		return SearchQuery{}, "Usage: /courses <year> <quarter> with at least one filter option."
	}

	year := args[0]
	if _, err := strconv.Atoi(year); err != nil || len(year) != 4 {
		return SearchQuery{}, fmt.Sprintf("%q is not a valid year.", year)
	}
	quarter, ok := validQuarters[strings.ToLower(args[1])]
	if !ok {
		return SearchQuery{}, fmt.Sprintf("%q is not a valid quarter (fall, winter, spring, summer).", args[1])
	}

	query := SearchQuery{Year: year, Quarter: quarter}
	if option, ok := event.Command.Option("dept"); ok {
		query.Department = m.resolveDepartment(event.CommunityID, option.Value)
	}
	if option, ok := event.Command.Option("ge"); ok {
		query.GE = strings.ToUpper(option.Value)
	}
	if option, ok := event.Command.Option("number"); ok {
		query.CourseNumber = option.Value
	}
	if option, ok := event.Command.Option("instructor"); ok {
		query.Instructor = option.Value
	}

	if query.Department == "" && query.GE == "" && query.CourseNumber == "" && query.Instructor == "" {
		return SearchQuery{}, "Give at least one filter: --dept, --ge, --number, or --instructor."
	}

	return query, ""
}

// resolveDepartment maps a community alias onto its department code, or
// passes the uppercased input through when no alias is registered.
func (m *Module) resolveDepartment(communityID int64, input string) string {
	if department, ok := m.cache.Alias(communityID, input); ok {
		return department
	}
	return strings.ToUpper(strings.TrimSpace(input))
}

func (m *Module) handleAlias(ctx context.Context, event *anthill.Event) error {
	args := event.Command.Args()
	if len(args) < 2 {
		return m.reply(ctx, event, "Usage: /alias <alias> <department>")
	}

	alias := anthill.CatalogAlias{
		CommunityID: event.CommunityID,
		Alias:       strings.ToLower(args[0]),
		Department:  strings.ToUpper(strings.Join(args[1:], " ")),
	}
	err := m.coordinator.AddAlias(ctx, alias)
	switch {
	case err == nil:
		return m.reply(ctx, event, fmt.Sprintf("Alias %q now points to %s.", alias.Alias, alias.Department))
	case errors.Is(err, anthill.ErrDuplicateRecord):
		return m.reply(ctx, event, fmt.Sprintf("Alias %q is already registered.", alias.Alias))
	case errors.Is(err, anthill.ErrStoreUnavailable):
		return m.reply(ctx, event, "Alias storage is unavailable right now, try again later.")
	default:
		return fmt.Errorf("catalog add alias: %w", err)
	}
}

func (m *Module) handleVoiceLink(ctx context.Context, event *anthill.Event) error {
	args := event.Command.Args()
	if len(args) != 3 {
		return m.reply(ctx, event, "Usage: /voicelink <voice-id> <text-id> <role-id>")
	}

	identifiers := make([]int64, 3)
	for index, arg := range args {
		parsed, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return m.reply(ctx, event, "Usage: /voicelink <voice-id> <text-id> <role-id>")
		}
		identifiers[index] = parsed
	}

	if existing, ok := m.cache.VoiceLink(event.CommunityID, identifiers[0]); ok {
		return m.reply(ctx, event, fmt.Sprintf(
			"Voice channel %d is already linked to text channel %d.",
			existing.VoiceChannelID, existing.TextChannelID,
		))
	}

	link := anthill.VoiceLink{
		CommunityID:    event.CommunityID,
		VoiceChannelID: identifiers[0],
		TextChannelID:  identifiers[1],
		RoleID:         identifiers[2],
	}
	err := m.coordinator.AddVoiceLink(ctx, link)
	switch {
	case err == nil:
		return m.reply(ctx, event, fmt.Sprintf("Voice channel %d linked to text channel %d.", link.VoiceChannelID, link.TextChannelID))
	case errors.Is(err, anthill.ErrDuplicateRecord):
		return m.reply(ctx, event, fmt.Sprintf("Voice channel %d is already linked.", link.VoiceChannelID))
	case errors.Is(err, anthill.ErrStoreUnavailable):
		return m.reply(ctx, event, "Voice link storage is unavailable right now, try again later.")
	default:
		return fmt.Errorf("catalog add voice link: %w", err)
	}
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
		return fmt.Errorf("catalog reply: %w", err)
	}

	return nil
}

var _ anthill.Module = (*Module)(nil)
