// Package pager renders multi-page command results as a single message with
// reaction-driven navigation. Each rendered message owns one short-lived
// session; sessions expire on a fixed deadline and are swept in the
// background.
package pager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"anthill/pkg/anthill"
)

const (
	emojiPrev   = "◀"
	emojiNext   = "▶"
	emojiDelete = "🗑"

	defaultSessionTTL    = 2 * time.Minute
	defaultSweepInterval = 15 * time.Second
)

// Option mutates pager module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing the default.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithSessionTTL sets the fixed lifetime of a session. The deadline is set
// at creation and never extended by activity.
func WithSessionTTL(ttl time.Duration) Option {
	return func(module *Module) {
		if ttl > 0 {
			module.ttl = ttl
		}
	}
}

// WithSweepInterval sets how often expired sessions are collected.
func WithSweepInterval(interval time.Duration) Option {
	return func(module *Module) {
		if interval > 0 {
			module.sweepInterval = interval
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(module *Module) {
		if clock != nil {
			module.clock = clock
		}
	}
}

// Module owns the live session registry and drives navigation from
// reaction events. It is also the anthill.Pager implementation other
// modules resolve to open sessions.
type Module struct {
	logger        *slog.Logger
	dispatcher    anthill.OutboundDispatcher
	ttl           time.Duration
	sweepInterval time.Duration
	clock         func() time.Time

	sessions *xsync.MapOf[int64, *session]

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	sessionsOpened  *metrics.Counter
	sessionsExpired *metrics.Counter
}

// New creates a pager module with default configuration.
func New(options ...Option) *Module {
	module := &Module{
		logger:          slog.Default(),
		ttl:             defaultSessionTTL,
		sweepInterval:   defaultSweepInterval,
		clock:           time.Now,
		sessions:        xsync.NewMapOf[int64, *session](),
		sessionsOpened:  metrics.GetOrCreateCounter("anthill_pager_sessions_opened_total"),
		sessionsExpired: metrics.GetOrCreateCounter("anthill_pager_sessions_expired_total"),
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "pager"
}

// Spec declares no commands; the pager is driven by reactions and by other
// modules opening sessions through the anthill.Pager service.
func (m *Module) Spec() anthill.ModuleSpec {
	return anthill.ModuleSpec{}
}

// OnRegister resolves the outbound dispatcher and subscribes to reaction
// events for navigation.
func (m *Module) OnRegister(ctx context.Context, runtime anthill.ModuleRuntime) error {
	dispatcher, err := anthill.ResolveAs[anthill.OutboundDispatcher](
		runtime.Services(),
		anthill.ServiceOutboundDispatcher,
	)
	if err != nil {
		return fmt.Errorf("pager resolve outbound dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	_, err = runtime.Subscribe(ctx, anthill.SubscriptionSpec{
		Name: "pager-reactions",
		Filter: anthill.InterestSet{
			Kinds: []anthill.EventKind{
				anthill.EventKindReactionAdded,
				anthill.EventKindReactionRemoved,
			},
		},
	}, m.handleReaction)
	if err != nil {
		return fmt.Errorf("pager subscribe reactions: %w", err)
	}

	return nil
}

// OnStart launches the background expiry sweep.
func (m *Module) OnStart(_ context.Context) error {
	sweepCtx, cancel := context.WithCancel(context.Background())
	m.sweepCancel = cancel
	m.sweepDone = make(chan struct{})

	go m.sweepLoop(sweepCtx)

	return nil
}

// OnShutdown stops the sweep and expires every live session so rendered
// messages do not keep advertising dead controls.
func (m *Module) OnShutdown(ctx context.Context) error {
	if m.sweepCancel != nil {
		m.sweepCancel()
		<-m.sweepDone
	}

	m.sessions.Range(func(messageID int64, active *session) bool {
		active.expire(ctx)
		m.sessions.Delete(messageID)
		return true
	})

	return nil
}

// Open validates the request, renders the first page, and registers a new
// session keyed by the rendered message.
func (m *Module) Open(ctx context.Context, request anthill.PagerOpenRequest) (*anthill.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}

	rendered, err := m.dispatcher.SendMessage(ctx, anthill.SendMessageRequest{
		Target:           request.Target,
		Text:             renderPage(request.Pages, 0, true),
		ReplyToMessageID: request.ReplyToMessageID,
	})
	if err != nil {
		return nil, fmt.Errorf("pager render first page: %w", err)
	}

	created := newSession(
		uuid.NewString(),
		request,
		rendered.ID,
		m.clock().Add(m.ttl),
		m.dispatcher,
	)
	m.sessions.Store(rendered.ID, created)
	m.sessionsOpened.Inc()

	m.logger.Debug("pager session opened",
		slog.String("session_id", created.id),
		slog.Int64("message_id", rendered.ID),
		slog.Int("pages", len(request.Pages)),
	)

	return rendered, nil
}

func (m *Module) handleReaction(ctx context.Context, event *anthill.Event) error {
	if event == nil || event.Reaction == nil {
		return nil
	}

	active, ok := m.sessions.Load(event.Reaction.MessageID)
	if !ok {
		return nil
	}
	if !active.authorized(event.Actor.ID) {
		return nil
	}

	switch event.Reaction.Emoji {
	case emojiPrev:
		active.prev(ctx)
	case emojiNext:
		active.next(ctx)
	case emojiDelete:
		active.deleteMessage(ctx)
	default:
		return nil
	}

	if active.isTerminated() {
		m.sessions.Delete(active.messageID)
	}

	return nil
}

func (m *Module) sweepLoop(ctx context.Context) {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Module) sweep(ctx context.Context) {
	now := m.clock()
	m.sessions.Range(func(messageID int64, active *session) bool {
		if active.expired(now) {
			active.expire(ctx)
			m.sessionsExpired.Inc()
		}
		if active.isTerminated() {
			m.sessions.Delete(messageID)
		}
		return true
	})
}

var (
	_ anthill.Module = (*Module)(nil)
	_ anthill.Pager  = (*Module)(nil)
)
