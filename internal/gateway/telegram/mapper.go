package telegram

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/tg"

	"anthill/pkg/anthill"
)

// Mapper converts gotd updates into neutral events.
//
// A Telegram supergroup maps onto a community. The forum topic a message
// belongs to maps onto the channel; messages outside any topic use the
// community identifier as their channel.
type Mapper struct {
	peers  *PeerCache
	selfID atomic.Int64
	clock  func() time.Time
	newID  func() string
}

// MapperOption mutates mapper configuration.
type MapperOption func(*Mapper)

// WithMapperClock injects the time source used for updates without timestamps.
func WithMapperClock(clock func() time.Time) MapperOption {
	return func(mapper *Mapper) {
		if clock != nil {
			mapper.clock = clock
		}
	}
}

// NewMapper creates a mapper that records peers into the given cache.
func NewMapper(peers *PeerCache, options ...MapperOption) *Mapper {
	mapper := &Mapper{
		peers: peers,
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, option := range options {
		option(mapper)
	}

	return mapper
}

// SetSelfID records the authenticated bot account identifier. Participant
// updates for this account map onto community-joined events instead of
// member-joined events.
func (m *Mapper) SetSelfID(id int64) {
	m.selfID.Store(id)
}

// Map converts one gotd update into zero or more neutral events.
//
// Unsupported update classes map to an empty slice, never an error.
func (m *Mapper) Map(raw tg.UpdateClass, entities tg.Entities) ([]*anthill.Event, error) {
	if raw == nil {
		return nil, fmt.Errorf("map telegram update: nil update")
	}
	if m.peers != nil {
		m.peers.RememberEntities(entities)
	}

	switch update := raw.(type) {
	case *tg.UpdateNewChannelMessage:
		return m.mapMessageClass(update.Message, entities, anthill.EventKindMessageCreated)
	case *tg.UpdateNewMessage:
		return m.mapMessageClass(update.Message, entities, anthill.EventKindMessageCreated)
	case *tg.UpdateEditChannelMessage:
		return m.mapMessageClass(update.Message, entities, anthill.EventKindMessageEdited)
	case *tg.UpdateEditMessage:
		return m.mapMessageClass(update.Message, entities, anthill.EventKindMessageEdited)
	case *tg.UpdateDeleteChannelMessages:
		return m.mapChannelDeletions(update), nil
	case *tg.UpdateBotMessageReaction:
		return m.mapReactionDelta(update, entities), nil
	case *tg.UpdateChannelParticipant:
		return m.mapChannelParticipant(update, entities), nil
	default:
		return nil, nil
	}
}

func (m *Mapper) mapMessageClass(
	raw tg.MessageClass,
	entities tg.Entities,
	kind anthill.EventKind,
) ([]*anthill.Event, error) {
	message, ok := raw.(*tg.Message)
	if !ok {
		// Service messages carry no loggable content.
		return nil, nil
	}

	communityID := communityFromPeer(message.PeerID)
	if communityID == 0 {
		return nil, nil
	}

	event := &anthill.Event{
		ID:          m.newID(),
		Kind:        kind,
		OccurredAt:  m.occurredAt(message.Date),
		Platform:    anthill.PlatformTelegram,
		CommunityID: communityID,
		ChannelID:   channelFromMessage(message, communityID),
		Actor:       m.resolveActor(message.FromID, entities),
	}

	switch kind {
	case anthill.EventKindMessageCreated:
		event.Message = &anthill.Message{
			ID:        int64(message.ID),
			ReplyToID: replyToID(message),
			Text:      message.Message,
		}
	case anthill.EventKindMessageEdited:
		// Telegram delivers only the post-edit content.
		event.Mutation = &anthill.Mutation{
			Type:            anthill.MutationTypeEdit,
			TargetMessageID: int64(message.ID),
			After:           message.Message,
		}
	default:
		return nil, fmt.Errorf("map telegram message: unsupported kind %q", kind)
	}

	return []*anthill.Event{event}, nil
}

// mapChannelDeletions fans a batched deletion update out into one event per
// deleted message. Telegram does not say who deleted or what the content was.
func (m *Mapper) mapChannelDeletions(update *tg.UpdateDeleteChannelMessages) []*anthill.Event {
	if update == nil || update.ChannelID == 0 {
		return nil
	}

	occurredAt := m.clock().UTC()
	events := make([]*anthill.Event, 0, len(update.Messages))
	for _, messageID := range update.Messages {
		events = append(events, &anthill.Event{
			ID:          m.newID(),
			Kind:        anthill.EventKindMessageDeleted,
			OccurredAt:  occurredAt,
			Platform:    anthill.PlatformTelegram,
			CommunityID: update.ChannelID,
			ChannelID:   update.ChannelID,
			Mutation: &anthill.Mutation{
				Type:            anthill.MutationTypeDeletion,
				TargetMessageID: int64(messageID),
			},
		})
	}

	return events
}

// mapReactionDelta diffs the old and new reaction sets into add and remove
// events for the reacting actor.
func (m *Mapper) mapReactionDelta(update *tg.UpdateBotMessageReaction, entities tg.Entities) []*anthill.Event {
	if update == nil {
		return nil
	}
	communityID := communityFromPeer(update.Peer)
	if communityID == 0 {
		return nil
	}

	actor := m.resolveActor(update.Actor, entities)
	occurredAt := m.occurredAt(update.Date)

	old := reactionSet(update.OldReactions)
	current := reactionSet(update.NewReactions)

	var events []*anthill.Event
	for emoji := range current {
		if old[emoji] {
			continue
		}
		events = append(events, m.newReactionEvent(
			anthill.EventKindReactionAdded, occurredAt, communityID, actor,
			int64(update.MsgID), emoji, anthill.ReactionActionAdd,
		))
	}
	for emoji := range old {
		if current[emoji] {
			continue
		}
		events = append(events, m.newReactionEvent(
			anthill.EventKindReactionRemoved, occurredAt, communityID, actor,
			int64(update.MsgID), emoji, anthill.ReactionActionRemove,
		))
	}

	return events
}

func (m *Mapper) newReactionEvent(
	kind anthill.EventKind,
	occurredAt time.Time,
	communityID int64,
	actor anthill.Actor,
	messageID int64,
	emoji string,
	action anthill.ReactionAction,
) *anthill.Event {
	return &anthill.Event{
		ID:          m.newID(),
		Kind:        kind,
		OccurredAt:  occurredAt,
		Platform:    anthill.PlatformTelegram,
		CommunityID: communityID,
		ChannelID:   communityID,
		Actor:       actor,
		Reaction: &anthill.Reaction{
			MessageID: messageID,
			Emoji:     emoji,
			Action:    action,
		},
	}
}

// mapChannelParticipant maps a join transition. A join of the bot account
// itself is a community-joined event.
func (m *Mapper) mapChannelParticipant(update *tg.UpdateChannelParticipant, entities tg.Entities) []*anthill.Event {
	if update == nil || update.ChannelID == 0 {
		return nil
	}

	_, hadPrev := update.GetPrevParticipant()
	_, hasNew := update.GetNewParticipant()
	if hadPrev || !hasNew {
		// Leaves and role changes are not tracked.
		return nil
	}

	occurredAt := m.occurredAt(update.Date)
	member := m.resolveUser(update.UserID, entities)

	kind := anthill.EventKindMemberJoined
	if selfID := m.selfID.Load(); selfID != 0 && update.UserID == selfID {
		kind = anthill.EventKindCommunityJoined
	}

	return []*anthill.Event{{
		ID:          m.newID(),
		Kind:        kind,
		OccurredAt:  occurredAt,
		Platform:    anthill.PlatformTelegram,
		CommunityID: update.ChannelID,
		ChannelID:   update.ChannelID,
		Actor:       m.resolveUser(update.ActorID, entities),
		Membership: &anthill.MemberChange{
			Member:   member,
			JoinedAt: occurredAt,
		},
	}}
}

func (m *Mapper) resolveActor(peer tg.PeerClass, entities tg.Entities) anthill.Actor {
	user, ok := peer.(*tg.PeerUser)
	if !ok {
		return anthill.Actor{}
	}

	return m.resolveUser(user.UserID, entities)
}

func (m *Mapper) resolveUser(userID int64, entities tg.Entities) anthill.Actor {
	actor := anthill.Actor{ID: userID}
	user, ok := entities.Users[userID]
	if !ok || user == nil {
		return actor
	}

	actor.Username = user.Username
	actor.DisplayName = displayName(user)
	actor.IsBot = user.Bot

	return actor
}

func (m *Mapper) occurredAt(unixSeconds int) time.Time {
	if unixSeconds <= 0 {
		return m.clock().UTC()
	}

	return time.Unix(int64(unixSeconds), 0).UTC()
}

func communityFromPeer(peer tg.PeerClass) int64 {
	channel, ok := peer.(*tg.PeerChannel)
	if !ok {
		return 0
	}

	return channel.ChannelID
}

// channelFromMessage resolves the forum topic a message belongs to, falling
// back to the community itself for non-forum chats.
func channelFromMessage(message *tg.Message, communityID int64) int64 {
	if replyTo, ok := message.GetReplyTo(); ok {
		if header, ok := replyTo.(*tg.MessageReplyHeader); ok && header.ForumTopic {
			if topicID, ok := header.GetReplyToTopID(); ok {
				return int64(topicID)
			}
			if topicID, ok := header.GetReplyToMsgID(); ok {
				return int64(topicID)
			}
		}
	}

	return communityID
}

func replyToID(message *tg.Message) int64 {
	replyTo, ok := message.GetReplyTo()
	if !ok {
		return 0
	}
	header, ok := replyTo.(*tg.MessageReplyHeader)
	if !ok {
		return 0
	}
	if id, ok := header.GetReplyToMsgID(); ok {
		return int64(id)
	}

	return 0
}

func reactionSet(reactions []tg.ReactionClass) map[string]bool {
	set := make(map[string]bool, len(reactions))
	for _, reaction := range reactions {
		if emoji, ok := reaction.(*tg.ReactionEmoji); ok {
			set[emoji.Emoticon] = true
		}
	}

	return set
}

func displayName(user *tg.User) string {
	if user.LastName == "" {
		return user.FirstName
	}
	if user.FirstName == "" {
		return user.LastName
	}

	return user.FirstName + " " + user.LastName
}
