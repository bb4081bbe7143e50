// Package postgres implements the guild store on PostgreSQL.
//
// The store is deliberately thin: one statement per operation, no
// transactions, no retries. Ordering and reconciliation of racing writers
// is the write coordinator's job; the store only reports what the database
// said, translated onto the shared error taxonomy.
package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"anthill/pkg/anthill"
)

// Querier is the subset of pgxpool.Pool the store uses. Mock pools
// satisfy it too, which keeps the tests off a live database.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Store persists guild records and the message log in PostgreSQL.
type Store struct {
	q Querier
}

// New creates a store over an established connection pool.
func New(q Querier) *Store {
	return &Store{q: q}
}

// Snapshot reads every record kind in one pass for cache hydration.
func (s *Store) Snapshot(ctx context.Context) (*anthill.StoreSnapshot, error) {
	snapshot := &anthill.StoreSnapshot{}

	if err := s.readCommunities(ctx, snapshot); err != nil {
		return nil, err
	}
	if err := s.readChannels(ctx, snapshot); err != nil {
		return nil, err
	}
	if err := s.readMembers(ctx, snapshot); err != nil {
		return nil, err
	}
	if err := s.readAliases(ctx, snapshot); err != nil {
		return nil, err
	}
	if err := s.readVoiceLinks(ctx, snapshot); err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (s *Store) readCommunities(ctx context.Context, snapshot *anthill.StoreSnapshot) error {
	sql, args, err := builder.
		Select("id", "watch_mode").
		From("communities").
		ToSql()
	if err != nil {
		return mapError("snapshot communities", err)
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return mapError("snapshot communities", err)
	}
	defer rows.Close()

	for rows.Next() {
		var community anthill.Community
		if err := rows.Scan(&community.ID, &community.WatchMode); err != nil {
			return mapError("snapshot communities", err)
		}
		snapshot.Communities = append(snapshot.Communities, community)
	}

	return mapError("snapshot communities", rows.Err())
}

func (s *Store) readChannels(ctx context.Context, snapshot *anthill.StoreSnapshot) error {
	sql, args, err := builder.
		Select("community_id", "id").
		From("channels").
		ToSql()
	if err != nil {
		return mapError("snapshot channels", err)
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return mapError("snapshot channels", err)
	}
	defer rows.Close()

	for rows.Next() {
		var channel anthill.Channel
		if err := rows.Scan(&channel.CommunityID, &channel.ID); err != nil {
			return mapError("snapshot channels", err)
		}
		snapshot.Channels = append(snapshot.Channels, channel)
	}

	return mapError("snapshot channels", rows.Err())
}

func (s *Store) readMembers(ctx context.Context, snapshot *anthill.StoreSnapshot) error {
	sql, args, err := builder.
		Select("community_id", "user_id").
		From("members").
		ToSql()
	if err != nil {
		return mapError("snapshot members", err)
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return mapError("snapshot members", err)
	}
	defer rows.Close()

	for rows.Next() {
		var member anthill.Member
		if err := rows.Scan(&member.CommunityID, &member.UserID); err != nil {
			return mapError("snapshot members", err)
		}
		snapshot.Members = append(snapshot.Members, member)
	}

	return mapError("snapshot members", rows.Err())
}

func (s *Store) readAliases(ctx context.Context, snapshot *anthill.StoreSnapshot) error {
	sql, args, err := builder.
		Select("community_id", "alias", "department").
		From("catalog_aliases").
		ToSql()
	if err != nil {
		return mapError("snapshot aliases", err)
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return mapError("snapshot aliases", err)
	}
	defer rows.Close()

	for rows.Next() {
		var alias anthill.CatalogAlias
		if err := rows.Scan(&alias.CommunityID, &alias.Alias, &alias.Department); err != nil {
			return mapError("snapshot aliases", err)
		}
		snapshot.Aliases = append(snapshot.Aliases, alias)
	}

	return mapError("snapshot aliases", rows.Err())
}

func (s *Store) readVoiceLinks(ctx context.Context, snapshot *anthill.StoreSnapshot) error {
	sql, args, err := builder.
		Select("community_id", "voice_channel_id", "text_channel_id", "role_id").
		From("voice_links").
		ToSql()
	if err != nil {
		return mapError("snapshot voice links", err)
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return mapError("snapshot voice links", err)
	}
	defer rows.Close()

	for rows.Next() {
		var link anthill.VoiceLink
		if err := rows.Scan(&link.CommunityID, &link.VoiceChannelID, &link.TextChannelID, &link.RoleID); err != nil {
			return mapError("snapshot voice links", err)
		}
		snapshot.VoiceLinks = append(snapshot.VoiceLinks, link)
	}

	return mapError("snapshot voice links", rows.Err())
}

// InsertCommunity writes one community row. A duplicate primary key
// surfaces as ErrDuplicateRecord so racing first-contact cascades can
// reconcile instead of failing.
func (s *Store) InsertCommunity(ctx context.Context, community anthill.Community) error {
	sql, args, err := builder.
		Insert("communities").
		Columns("id", "watch_mode").
		Values(community.ID, community.WatchMode).
		ToSql()
	if err != nil {
		return mapError("insert community", err)
	}

	_, err = s.q.Exec(ctx, sql, args...)
	return mapError("insert community", err)
}

// UpdateWatchMode flips the watch flag on an existing community row.
func (s *Store) UpdateWatchMode(ctx context.Context, communityID int64, enabled bool) error {
	sql, args, err := builder.
		Update("communities").
		Set("watch_mode", enabled).
		Where(squirrel.Eq{"id": communityID}).
		ToSql()
	if err != nil {
		return mapError("update watch mode", err)
	}

	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return mapError("update watch mode", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update watch mode: community %d: %w", communityID, anthill.ErrNotFound)
	}

	return nil
}

// InsertChannel writes one channel row.
func (s *Store) InsertChannel(ctx context.Context, channel anthill.Channel) error {
	sql, args, err := builder.
		Insert("channels").
		Columns("community_id", "id").
		Values(channel.CommunityID, channel.ID).
		ToSql()
	if err != nil {
		return mapError("insert channel", err)
	}

	_, err = s.q.Exec(ctx, sql, args...)
	return mapError("insert channel", err)
}

// InsertMember writes one member row.
func (s *Store) InsertMember(ctx context.Context, member anthill.Member) error {
	sql, args, err := builder.
		Insert("members").
		Columns("community_id", "user_id").
		Values(member.CommunityID, member.UserID).
		ToSql()
	if err != nil {
		return mapError("insert member", err)
	}

	_, err = s.q.Exec(ctx, sql, args...)
	return mapError("insert member", err)
}

// InsertAlias writes one catalog alias row.
func (s *Store) InsertAlias(ctx context.Context, alias anthill.CatalogAlias) error {
	sql, args, err := builder.
		Insert("catalog_aliases").
		Columns("community_id", "alias", "department").
		Values(alias.CommunityID, alias.Alias, alias.Department).
		ToSql()
	if err != nil {
		return mapError("insert alias", err)
	}

	_, err = s.q.Exec(ctx, sql, args...)
	return mapError("insert alias", err)
}

// InsertVoiceLink writes one voice link row.
func (s *Store) InsertVoiceLink(ctx context.Context, link anthill.VoiceLink) error {
	sql, args, err := builder.
		Insert("voice_links").
		Columns("community_id", "voice_channel_id", "text_channel_id", "role_id").
		Values(link.CommunityID, link.VoiceChannelID, link.TextChannelID, link.RoleID).
		ToSql()
	if err != nil {
		return mapError("insert voice link", err)
	}

	_, err = s.q.Exec(ctx, sql, args...)
	return mapError("insert voice link", err)
}

// InsertLogEntry appends one message log row.
func (s *Store) InsertLogEntry(ctx context.Context, entry anthill.LogEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	sql, args, err := builder.
		Insert("message_log").
		Columns("message_id", "community_id", "channel_id", "user_id", "content", "kind", "logged_at").
		Values(entry.MessageID, entry.CommunityID, entry.ChannelID, entry.UserID, entry.Content, string(entry.Kind), entry.LoggedAt).
		ToSql()
	if err != nil {
		return mapError("insert log entry", err)
	}

	_, err = s.q.Exec(ctx, sql, args...)
	return mapError("insert log entry", err)
}

// UserLog returns the newest log rows for one user in one community.
func (s *Store) UserLog(ctx context.Context, communityID, userID int64, limit int) ([]anthill.LogEntry, error) {
	query := builder.
		Select(logColumns...).
		From("message_log").
		Where(squirrel.Eq{"community_id": communityID, "user_id": userID}).
		OrderBy("logged_at DESC").
		Limit(uint64(limit))

	return s.queryLog(ctx, "user log", query)
}

// ChannelLog returns the newest log rows for one channel in one community.
func (s *Store) ChannelLog(ctx context.Context, communityID, channelID int64, limit int) ([]anthill.LogEntry, error) {
	query := builder.
		Select(logColumns...).
		From("message_log").
		Where(squirrel.Eq{"community_id": communityID, "channel_id": channelID}).
		OrderBy("logged_at DESC").
		Limit(uint64(limit))

	return s.queryLog(ctx, "channel log", query)
}

var logColumns = []string{
	"message_id", "community_id", "channel_id", "user_id", "content", "kind", "logged_at",
}

func (s *Store) queryLog(ctx context.Context, operation string, query squirrel.SelectBuilder) ([]anthill.LogEntry, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, mapError(operation, err)
	}

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(operation, err)
	}
	defer rows.Close()

	entries := make([]anthill.LogEntry, 0)
	for rows.Next() {
		var entry anthill.LogEntry
		var kind string
		if err := rows.Scan(
			&entry.MessageID,
			&entry.CommunityID,
			&entry.ChannelID,
			&entry.UserID,
			&entry.Content,
			&kind,
			&entry.LoggedAt,
		); err != nil {
			return nil, mapError(operation, err)
		}
		entry.Kind = anthill.LogKind(kind)
		entry.LoggedAt = entry.LoggedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(operation, err)
	}

	return entries, nil
}

var _ anthill.GuildStore = (*Store)(nil)
