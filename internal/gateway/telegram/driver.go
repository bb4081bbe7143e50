// Package telegram adapts the Telegram MTProto API into the neutral gateway
// contracts: inbound updates become protocol events, outbound requests
// become RPC calls.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"anthill/pkg/anthill"
)

const (
	// DriverName is the stable driver identifier exposed to the kernel.
	DriverName = "telegram"

	defaultPublishTimeout = 2 * time.Second
)

// Config carries Telegram API credentials for the bot account.
type Config struct {
	// APIID is the Telegram application identifier.
	APIID int
	// APIHash is the Telegram application hash.
	APIHash string
	// BotToken authenticates the bot account.
	BotToken string
	// SessionFile stores MTProto session state between runs.
	SessionFile string
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*Driver)

// WithDriverLogger configures structured logging for the driver.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(driver *Driver) {
		if logger != nil {
			driver.logger = logger
		}
	}
}

// WithPublishTimeout configures sink publish timeout per event.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(driver *Driver) {
		if timeout > 0 {
			driver.publishTimeout = timeout
		}
	}
}

// Driver consumes Telegram updates and publishes neutral events.
type Driver struct {
	logger         *slog.Logger
	publishTimeout time.Duration
	config         Config
	client         *gotdtelegram.Client
	updates        tg.UpdateDispatcher
	mapper         *Mapper
}

// NewDriver creates a Telegram driver. Peers discovered from inbound updates
// land in the given cache so the outbound dispatcher can address them.
func NewDriver(config Config, peers *PeerCache, options ...DriverOption) (*Driver, error) {
	if config.APIID == 0 || config.APIHash == "" {
		return nil, fmt.Errorf("new telegram driver: missing api credentials")
	}
	if config.BotToken == "" {
		return nil, fmt.Errorf("new telegram driver: missing bot token")
	}

	updates := tg.NewUpdateDispatcher()
	clientOptions := gotdtelegram.Options{UpdateHandler: updates}
	if config.SessionFile != "" {
		clientOptions.SessionStorage = &gotdtelegram.FileSessionStorage{Path: config.SessionFile}
	}

	driver := &Driver{
		logger:         slog.Default(),
		publishTimeout: defaultPublishTimeout,
		config:         config,
		client:         gotdtelegram.NewClient(config.APIID, config.APIHash, clientOptions),
		updates:        updates,
		mapper:         NewMapper(peers),
	}
	for _, option := range options {
		option(driver)
	}

	return driver, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return DriverName
}

// Client exposes the underlying gotd client for outbound dispatcher wiring.
func (d *Driver) Client() *gotdtelegram.Client {
	return d.client
}

// Start authenticates the bot account and consumes updates until the context
// is cancelled. Context cancellation is a clean stop, not an error.
func (d *Driver) Start(ctx context.Context, sink anthill.EventSink) error {
	if sink == nil {
		return fmt.Errorf("start telegram driver: nil sink")
	}

	d.bindHandlers(sink)

	err := d.client.Run(ctx, func(runCtx context.Context) error {
		status, err := d.client.Auth().Status(runCtx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			if _, err := d.client.Auth().Bot(runCtx, d.config.BotToken); err != nil {
				return fmt.Errorf("bot auth: %w", err)
			}
		}

		self, err := d.client.Self(runCtx)
		if err != nil {
			return fmt.Errorf("resolve self: %w", err)
		}
		d.mapper.SetSelfID(self.ID)
		d.logger.Info("telegram driver online",
			slog.Int64("bot_id", self.ID),
			slog.String("bot_username", self.Username),
		)

		<-runCtx.Done()
		return runCtx.Err()
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		return fmt.Errorf("start telegram driver: %w", err)
	}

	return nil
}

// Shutdown releases resources not controlled by the Start context.
func (d *Driver) Shutdown(_ context.Context) error {
	return nil
}

func (d *Driver) bindHandlers(sink anthill.EventSink) {
	d.updates.OnNewChannelMessage(func(ctx context.Context, entities tg.Entities, update *tg.UpdateNewChannelMessage) error {
		return d.publish(ctx, update, entities, sink)
	})
	d.updates.OnNewMessage(func(ctx context.Context, entities tg.Entities, update *tg.UpdateNewMessage) error {
		return d.publish(ctx, update, entities, sink)
	})
	d.updates.OnEditChannelMessage(func(ctx context.Context, entities tg.Entities, update *tg.UpdateEditChannelMessage) error {
		return d.publish(ctx, update, entities, sink)
	})
	d.updates.OnDeleteChannelMessages(func(ctx context.Context, entities tg.Entities, update *tg.UpdateDeleteChannelMessages) error {
		return d.publish(ctx, update, entities, sink)
	})
	d.updates.OnBotMessageReaction(func(ctx context.Context, entities tg.Entities, update *tg.UpdateBotMessageReaction) error {
		return d.publish(ctx, update, entities, sink)
	})
	d.updates.OnChannelParticipant(func(ctx context.Context, entities tg.Entities, update *tg.UpdateChannelParticipant) error {
		return d.publish(ctx, update, entities, sink)
	})
}

// publish maps one update and publishes the resulting events with bounded
// latency. Mapping and publish failures are logged, never returned, so one
// bad update cannot wedge the gotd update loop.
func (d *Driver) publish(ctx context.Context, raw tg.UpdateClass, entities tg.Entities, sink anthill.EventSink) error {
	events, err := d.mapSafely(raw, entities)
	if err != nil {
		d.logger.Warn("telegram update mapping failed", slog.String("error", err.Error()))
		return nil
	}

	for _, event := range events {
		publishCtx, cancel := context.WithTimeout(ctx, d.publishTimeout)
		err := sink.Publish(publishCtx, event)
		cancel()
		if err != nil {
			d.logger.Warn("telegram event publish failed",
				slog.String("event_id", event.ID),
				slog.String("kind", string(event.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// mapSafely protects against mapper panics at the adapter boundary.
func (d *Driver) mapSafely(raw tg.UpdateClass, entities tg.Entities) (events []*anthill.Event, err error) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		err = fmt.Errorf("map telegram update panic: %v", recovered)
	}()

	return d.mapper.Map(raw, entities)
}

var _ anthill.Driver = (*Driver)(nil)
