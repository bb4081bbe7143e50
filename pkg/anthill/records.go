package anthill

import (
	"fmt"
	"time"
)

// LogKind identifies which lifecycle stage a message log row captures.
type LogKind string

const (
	// LogKindOriginal is the first observed version of a message.
	LogKindOriginal LogKind = "original"
	// LogKindEditBefore is the pre-edit snapshot of an edited message.
	LogKindEditBefore LogKind = "edit_before"
	// LogKindEditAfter is the post-edit snapshot of an edited message.
	LogKindEditAfter LogKind = "edit_after"
	// LogKindDeletion marks message deletion.
	LogKindDeletion LogKind = "deletion"
)

// Validate checks whether one log kind is supported.
func (k LogKind) Validate() error {
	switch k {
	case LogKindOriginal, LogKindEditBefore, LogKindEditAfter, LogKindDeletion:
		return nil
	default:
		return fmt.Errorf("%w: unsupported log kind %q", ErrInvalidArgument, k)
	}
}

// Community is one tracked community record.
type Community struct {
	// ID is the platform community identifier.
	ID int64
	// WatchMode reports whether message logging is enabled for this community.
	WatchMode bool
}

// Channel is one observed channel within a community.
type Channel struct {
	// CommunityID identifies the owning community.
	CommunityID int64
	// ID is the platform channel identifier.
	ID int64
}

// Member is one observed member within a community.
type Member struct {
	// CommunityID identifies the owning community.
	CommunityID int64
	// UserID is the platform user identifier.
	UserID int64
}

// CatalogAlias maps a short community-scoped alias to a catalog department code.
type CatalogAlias struct {
	// CommunityID identifies the owning community.
	CommunityID int64
	// Alias is the normalized short form, unique within the community.
	Alias string
	// Department is the catalog department code the alias expands to.
	Department string
}

// VoiceLink associates a voice channel with a text channel and a role.
type VoiceLink struct {
	// CommunityID identifies the owning community.
	CommunityID int64
	// VoiceChannelID is the voice channel being linked.
	VoiceChannelID int64
	// TextChannelID is the companion text channel.
	TextChannelID int64
	// RoleID is the role granting access to the companion channel.
	RoleID int64
}

// LogEntry is one append-only message log row.
//
// The same message ID can appear multiple times with different kinds, and the
// same kind can repeat across edits, so identity is (MessageID, Kind, LoggedAt).
type LogEntry struct {
	// MessageID is the platform message identifier.
	MessageID int64
	// CommunityID identifies the community the message was posted in.
	CommunityID int64
	// ChannelID identifies the channel the message was posted in.
	ChannelID int64
	// UserID identifies the message author.
	UserID int64
	// Content is the message text captured for this lifecycle stage.
	Content string
	// Kind identifies which lifecycle stage this row captures.
	Kind LogKind
	// LoggedAt is the UTC capture timestamp.
	LoggedAt time.Time
}

// Validate checks log entry identity fields before persistence.
func (e LogEntry) Validate() error {
	if e.MessageID == 0 {
		return fmt.Errorf("%w: missing message id", ErrInvalidArgument)
	}
	if e.CommunityID == 0 {
		return fmt.Errorf("%w: missing community id", ErrInvalidArgument)
	}
	if e.ChannelID == 0 {
		return fmt.Errorf("%w: missing channel id", ErrInvalidArgument)
	}
	if e.UserID == 0 {
		return fmt.Errorf("%w: missing user id", ErrInvalidArgument)
	}
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if e.LoggedAt.IsZero() {
		return fmt.Errorf("%w: missing logged_at", ErrInvalidArgument)
	}

	return nil
}

// NormalizeLogTime converts a platform timestamp to the canonical storage form.
//
// Storage keeps timezone-naive UTC timestamps, so everything is normalized to
// UTC before it participates in row identity.
func NormalizeLogTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}

	return t.UTC()
}
