package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"

	"anthill/pkg/anthill"
)

const defaultOutboundTimeout = 3 * time.Second

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
}

// Dispatcher adapts neutral outbound operations to Telegram RPC calls.
type Dispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC
}

// NewDispatcher creates a Telegram outbound dispatcher over gotd client APIs.
func NewDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*Dispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram dispatcher: nil client")
	}

	return newDispatcherWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*Dispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram dispatcher: nil peer cache")
	}

	cfg := outboundConfig{rpcTimeout: defaultOutboundTimeout}
	for _, option := range options {
		option(&cfg)
	}

	return &Dispatcher{
		cfg:      cfg,
		peers:    peers,
		telegram: rpc,
	}, nil
}

// SendMessage publishes a text message to a Telegram community.
func (d *Dispatcher) SendMessage(
	ctx context.Context,
	request anthill.SendMessageRequest,
) (*anthill.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target.CommunityID)
	if err != nil {
		return nil, fmt.Errorf("send message resolve peer: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	id, err := d.telegram.SendText(rpcCtx, peer, request)
	if err != nil {
		return nil, mapOutboundError(anthill.OutboundOperationSendMessage, err)
	}

	d.logOutbound(
		ctx,
		"send_message",
		"community_id", request.Target.CommunityID,
		"channel_id", request.Target.ChannelID,
		"message_id", id,
		"reply_to_message_id", request.ReplyToMessageID,
	)

	return &anthill.OutboundMessage{
		ID:     int64(id),
		Target: request.Target,
	}, nil
}

// EditMessage updates text for an existing Telegram message.
func (d *Dispatcher) EditMessage(ctx context.Context, request anthill.EditMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target.CommunityID)
	if err != nil {
		return fmt.Errorf("edit message resolve peer: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.telegram.EditText(rpcCtx, peer, int(request.MessageID), request.Text); err != nil {
		return mapOutboundError(anthill.OutboundOperationEditMessage, err)
	}

	d.logOutbound(
		ctx,
		"edit_message",
		"community_id", request.Target.CommunityID,
		"message_id", request.MessageID,
	)

	return nil
}

// DeleteMessage removes an existing Telegram message for all participants.
func (d *Dispatcher) DeleteMessage(ctx context.Context, request anthill.DeleteMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("delete message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target.CommunityID)
	if err != nil {
		return fmt.Errorf("delete message resolve peer: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.telegram.DeleteMessage(rpcCtx, peer, int(request.MessageID)); err != nil {
		return mapOutboundError(anthill.OutboundOperationDeleteMessage, err)
	}

	d.logOutbound(
		ctx,
		"delete_message",
		"community_id", request.Target.CommunityID,
		"message_id", request.MessageID,
	)

	return nil
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.rpcTimeout)
}

func (d *Dispatcher) logOutbound(ctx context.Context, operation string, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 2+len(attrs))
	values = append(values, "operation", operation, "platform", anthill.PlatformTelegram)
	values = append(values, attrs...)
	d.cfg.logger.InfoContext(ctx, "telegram outbound operation", values...)
}

type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, request anthill.SendMessageRequest) (int, error)
	EditText(ctx context.Context, peer tg.InputPeerClass, messageID int, text string) error
	DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int) error
}

type gotdOutboundRPC struct {
	raw    *tg.Client
	rand   io.Reader
	sender *message.Sender
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	raw := client.API()

	return gotdOutboundRPC{
		raw:    raw,
		rand:   crypto.DefaultRand(),
		sender: message.NewSender(raw),
	}
}

func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	request anthill.SendMessageRequest,
) (int, error) {
	sendRequest := &tg.MessagesSendMessageRequest{
		Peer:    peer,
		Message: request.Text,
		Silent:  request.Silent,
	}
	if request.ReplyToMessageID != 0 {
		sendRequest.ReplyTo = &tg.InputReplyToMessage{
			ReplyToMsgID: int(request.ReplyToMessageID),
		}
	}

	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	sendRequest.RandomID = randomID

	updates, err := r.raw.MessagesSendMessage(ctx, sendRequest)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) EditText(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	text string,
) error {
	_, err := r.raw.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:    peer,
		ID:      messageID,
		Message: text,
	})
	if err != nil {
		return fmt.Errorf("edit text: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) DeleteMessage(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
) error {
	if _, err := r.sender.To(peer).Revoke().Messages(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

var _ anthill.OutboundDispatcher = (*Dispatcher)(nil)
