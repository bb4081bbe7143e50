package anthill

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral domain event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindMessageEdited is emitted when an existing message is edited.
	EventKindMessageEdited EventKind = "message.edited"
	// EventKindMessageDeleted is emitted when a message is deleted.
	EventKindMessageDeleted EventKind = "message.deleted"
	// EventKindReactionAdded is emitted when a reaction is added to a message.
	EventKindReactionAdded EventKind = "reaction.added"
	// EventKindReactionRemoved is emitted when a reaction is removed from a message.
	EventKindReactionRemoved EventKind = "reaction.removed"
	// EventKindMemberJoined is emitted when a member joins a community.
	EventKindMemberJoined EventKind = "member.joined"
	// EventKindCommunityJoined is emitted when the bot itself joins a community.
	EventKindCommunityJoined EventKind = "community.joined"
	// EventKindCommandReceived is emitted by the command sink after a message
	// was successfully bound against a registered command specification.
	EventKindCommandReceived EventKind = "command.received"
)

// Platform identifies an external chat platform source.
type Platform string

const (
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
)

// Event is the neutral protocol envelope that the gateway publishes and
// modules consume.
//
// Event fields are intentionally composable: Message, Mutation, Reaction,
// Membership, and Command are optional payload branches selected by Kind to
// avoid platform-specific leakage.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Platform identifies the upstream platform that produced the event.
	Platform Platform
	// CommunityID identifies the community the event happened in. Zero for
	// events outside any community scope.
	CommunityID int64
	// ChannelID identifies the channel inside the community when applicable.
	ChannelID int64
	// Actor identifies who initiated the event when available.
	Actor Actor
	// Message carries message content for message-created events.
	Message *Message
	// Mutation carries before/after context for edit and deletion events.
	Mutation *Mutation
	// Reaction carries emoji reaction metadata for reaction events.
	Reaction *Reaction
	// Membership carries join transitions for member and community events.
	Membership *MemberChange
	// Command carries a bound command invocation for command events.
	Command *CommandInvocation
	// Metadata stores optional gateway-provided key/value context.
	Metadata map[string]string
}

// Actor identifies the user/account that initiated an event.
type Actor struct {
	// ID is the stable actor identifier on the source platform.
	ID int64
	// Username is the platform handle when available.
	Username string
	// DisplayName is the human-readable actor name.
	DisplayName string
	// IsBot reports whether the actor is an automated account.
	IsBot bool
}

// Message holds neutral message content.
type Message struct {
	// ID is the message identifier on the source platform.
	ID int64
	// ReplyToID is the parent message identifier when this is a reply.
	ReplyToID int64
	// Text is the normalized message text body.
	Text string
}

// MutationType identifies message mutation kind.
type MutationType string

const (
	// MutationTypeEdit indicates message edit.
	MutationTypeEdit MutationType = "edit"
	// MutationTypeDeletion indicates message deletion.
	MutationTypeDeletion MutationType = "deletion"
)

// Mutation holds before/after message mutation context.
type Mutation struct {
	// Type identifies the mutation operation.
	Type MutationType
	// TargetMessageID identifies the message affected by the mutation.
	TargetMessageID int64
	// Before captures message text before mutation when known.
	Before string
	// After captures message text after mutation when applicable.
	After string
}

// ReactionAction identifies whether a reaction is being added or removed.
type ReactionAction string

const (
	// ReactionActionAdd indicates a reaction was added.
	ReactionActionAdd ReactionAction = "add"
	// ReactionActionRemove indicates a reaction was removed.
	ReactionActionRemove ReactionAction = "remove"
)

// Reaction holds neutral reaction/emoji metadata.
type Reaction struct {
	// MessageID identifies the message receiving the reaction mutation.
	MessageID int64
	// Emoji is the normalized emoji token.
	Emoji string
	// Action identifies whether the emoji was added or removed.
	Action ReactionAction
}

// MemberChange captures join transitions.
type MemberChange struct {
	// Member identifies the member affected by the transition.
	Member Actor
	// JoinedAt is the join timestamp when provided by the source platform.
	JoinedAt time.Time
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}

	return validatePayloadByKind(e)
}

// validatePayloadByKind enforces payload branch requirements for each event kind.
func validatePayloadByKind(e *Event) error {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
	case EventKindMessageEdited, EventKindMessageDeleted:
		if e.Mutation == nil {
			return fmt.Errorf("%w: mutation event requires mutation payload", ErrInvalidEvent)
		}
	case EventKindReactionAdded, EventKindReactionRemoved:
		if e.Reaction == nil {
			return fmt.Errorf("%w: reaction event requires reaction payload", ErrInvalidEvent)
		}
	case EventKindMemberJoined, EventKindCommunityJoined:
		if e.Membership == nil {
			return fmt.Errorf("%w: membership event requires membership payload", ErrInvalidEvent)
		}
	case EventKindCommandReceived:
		if e.Command == nil {
			return fmt.Errorf("%w: command event requires command payload", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}
