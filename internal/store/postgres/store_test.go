package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"anthill/pkg/anthill"
)

func newStoreUnderTest(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return New(mock), mock
}

func expectationsMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestStoreInsertCommunityMapsDuplicateKey verifies 23505 classification.
func TestStoreInsertCommunityMapsDuplicateKey(t *testing.T) {
	store, mock := newStoreUnderTest(t)
	mock.ExpectExec(`INSERT INTO communities`).
		WithArgs(int64(1), false).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.InsertCommunity(context.Background(), anthill.Community{ID: 1})
	if !errors.Is(err, anthill.ErrDuplicateRecord) {
		t.Fatalf("insert error = %v, want ErrDuplicateRecord", err)
	}
	expectationsMet(t, mock)
}

// TestStoreInsertChannelMapsForeignKeyViolation verifies class 23 classification.
func TestStoreInsertChannelMapsForeignKeyViolation(t *testing.T) {
	store, mock := newStoreUnderTest(t)
	mock.ExpectExec(`INSERT INTO channels`).
		WithArgs(int64(1), int64(10)).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := store.InsertChannel(context.Background(), anthill.Channel{CommunityID: 1, ID: 10})
	if !errors.Is(err, anthill.ErrConstraintViolation) {
		t.Fatalf("insert error = %v, want ErrConstraintViolation", err)
	}
	if errors.Is(err, anthill.ErrDuplicateRecord) {
		t.Fatal("foreign key violation must not classify as duplicate")
	}
	expectationsMet(t, mock)
}

// TestStoreInsertMemberMapsConnectionFailure verifies class 08 classification.
func TestStoreInsertMemberMapsConnectionFailure(t *testing.T) {
	store, mock := newStoreUnderTest(t)
	mock.ExpectExec(`INSERT INTO members`).
		WithArgs(int64(1), int64(20)).
		WillReturnError(&pgconn.PgError{Code: "08006"})

	err := store.InsertMember(context.Background(), anthill.Member{CommunityID: 1, UserID: 20})
	if !errors.Is(err, anthill.ErrStoreUnavailable) {
		t.Fatalf("insert error = %v, want ErrStoreUnavailable", err)
	}
	expectationsMet(t, mock)
}

// TestStoreInsertCommunityMapsTransportError verifies non-PgError classification.
func TestStoreInsertCommunityMapsTransportError(t *testing.T) {
	store, mock := newStoreUnderTest(t)
	mock.ExpectExec(`INSERT INTO communities`).
		WithArgs(int64(1), true).
		WillReturnError(errors.New("dial tcp: connection refused"))

	err := store.InsertCommunity(context.Background(), anthill.Community{ID: 1, WatchMode: true})
	if !errors.Is(err, anthill.ErrStoreUnavailable) {
		t.Fatalf("insert error = %v, want ErrStoreUnavailable", err)
	}
	expectationsMet(t, mock)
}

// TestStoreInsertCommunityPassesContextErrorThrough verifies cancellation is not reclassified.
func TestStoreInsertCommunityPassesContextErrorThrough(t *testing.T) {
	store, mock := newStoreUnderTest(t)
	mock.ExpectExec(`INSERT INTO communities`).
		WithArgs(int64(1), false).
		WillReturnError(context.Canceled)

	err := store.InsertCommunity(context.Background(), anthill.Community{ID: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("insert error = %v, want context.Canceled", err)
	}
	if errors.Is(err, anthill.ErrStoreUnavailable) {
		t.Fatal("cancellation must not classify as store unavailability")
	}
	expectationsMet(t, mock)
}

// TestStoreUpdateWatchMode verifies flag updates and the missing-row case.
func TestStoreUpdateWatchMode(t *testing.T) {
	store, mock := newStoreUnderTest(t)

	mock.ExpectExec(`UPDATE communities`).
		WithArgs(true, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.UpdateWatchMode(context.Background(), 1, true); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	mock.ExpectExec(`UPDATE communities`).
		WithArgs(true, int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := store.UpdateWatchMode(context.Background(), 2, true)
	if !errors.Is(err, anthill.ErrNotFound) {
		t.Fatalf("update error = %v, want ErrNotFound", err)
	}

	expectationsMet(t, mock)
}

// TestStoreInsertLogEntry verifies log append and validation gating.
func TestStoreInsertLogEntry(t *testing.T) {
	store, mock := newStoreUnderTest(t)
	loggedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO message_log`).
		WithArgs(int64(11), int64(1), int64(10), int64(20), "hello", "original", loggedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	entry := anthill.LogEntry{
		MessageID:   11,
		CommunityID: 1,
		ChannelID:   10,
		UserID:      20,
		Content:     "hello",
		Kind:        anthill.LogKindOriginal,
		LoggedAt:    loggedAt,
	}
	if err := store.InsertLogEntry(context.Background(), entry); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// Invalid entries must be rejected before the statement runs.
	entry.Kind = "bogus"
	if err := store.InsertLogEntry(context.Background(), entry); !errors.Is(err, anthill.ErrInvalidArgument) {
		t.Fatalf("invalid entry error = %v, want ErrInvalidArgument", err)
	}

	expectationsMet(t, mock)
}

// TestStoreUserLog verifies row mapping and UTC normalization on reads.
func TestStoreUserLog(t *testing.T) {
	store, mock := newStoreUnderTest(t)
	local := time.FixedZone("PST", -8*3600)
	loggedAt := time.Date(2024, 3, 1, 4, 0, 0, 0, local)

	rows := pgxmock.NewRows([]string{
		"message_id", "community_id", "channel_id", "user_id", "content", "kind", "logged_at",
	}).
		AddRow(int64(12), int64(1), int64(10), int64(20), "edited", "edit_after", loggedAt).
		AddRow(int64(11), int64(1), int64(10), int64(20), "hello", "original", loggedAt.Add(-time.Minute))
	mock.ExpectQuery(`SELECT .+ FROM message_log`).
		WithArgs(int64(1), int64(20)).
		WillReturnRows(rows)

	entries, err := store.UserLog(context.Background(), 1, 20, 50)
	if err != nil {
		t.Fatalf("user log failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Kind != anthill.LogKindEditAfter || entries[0].MessageID != 12 {
		t.Fatalf("first entry = %+v, want edit_after/12", entries[0])
	}
	if zone, _ := entries[0].LoggedAt.Zone(); zone != "UTC" {
		t.Fatalf("logged_at zone = %s, want UTC", zone)
	}
	expectationsMet(t, mock)
}

// TestStoreChannelLogEmptyResult verifies an empty, non-nil slice for no rows.
func TestStoreChannelLogEmptyResult(t *testing.T) {
	store, mock := newStoreUnderTest(t)
	rows := pgxmock.NewRows([]string{
		"message_id", "community_id", "channel_id", "user_id", "content", "kind", "logged_at",
	})
	mock.ExpectQuery(`SELECT .+ FROM message_log`).
		WithArgs(int64(1), int64(10)).
		WillReturnRows(rows)

	entries, err := store.ChannelLog(context.Background(), 1, 10, 50)
	if err != nil {
		t.Fatalf("channel log failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("entries = %v, want empty slice", entries)
	}
	expectationsMet(t, mock)
}

// TestStoreSnapshot verifies full snapshot assembly across all five tables.
func TestStoreSnapshot(t *testing.T) {
	store, mock := newStoreUnderTest(t)

	mock.ExpectQuery(`SELECT .+ FROM communities`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "watch_mode"}).
			AddRow(int64(1), true).
			AddRow(int64(2), false))
	mock.ExpectQuery(`SELECT .+ FROM channels`).
		WillReturnRows(pgxmock.NewRows([]string{"community_id", "id"}).
			AddRow(int64(1), int64(10)))
	mock.ExpectQuery(`SELECT .+ FROM members`).
		WillReturnRows(pgxmock.NewRows([]string{"community_id", "user_id"}).
			AddRow(int64(1), int64(20)))
	mock.ExpectQuery(`SELECT .+ FROM catalog_aliases`).
		WillReturnRows(pgxmock.NewRows([]string{"community_id", "alias", "department"}).
			AddRow(int64(1), "ics", "I&C SCI"))
	mock.ExpectQuery(`SELECT .+ FROM voice_links`).
		WillReturnRows(pgxmock.NewRows([]string{"community_id", "voice_channel_id", "text_channel_id", "role_id"}).
			AddRow(int64(1), int64(30), int64(31), int64(32)))

	snapshot, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snapshot.Communities) != 2 || !snapshot.Communities[0].WatchMode {
		t.Fatalf("communities = %+v", snapshot.Communities)
	}
	if len(snapshot.Channels) != 1 || snapshot.Channels[0].ID != 10 {
		t.Fatalf("channels = %+v", snapshot.Channels)
	}
	if len(snapshot.Members) != 1 || snapshot.Members[0].UserID != 20 {
		t.Fatalf("members = %+v", snapshot.Members)
	}
	if len(snapshot.Aliases) != 1 || snapshot.Aliases[0].Department != "I&C SCI" {
		t.Fatalf("aliases = %+v", snapshot.Aliases)
	}
	if len(snapshot.VoiceLinks) != 1 || snapshot.VoiceLinks[0].RoleID != 32 {
		t.Fatalf("voice links = %+v", snapshot.VoiceLinks)
	}
	expectationsMet(t, mock)
}

// TestStoreSnapshotAbortsOnFirstFailure verifies failures stop the read pass.
func TestStoreSnapshotAbortsOnFirstFailure(t *testing.T) {
	store, mock := newStoreUnderTest(t)
	mock.ExpectQuery(`SELECT .+ FROM communities`).
		WillReturnError(&pgconn.PgError{Code: "08006"})

	_, err := store.Snapshot(context.Background())
	if !errors.Is(err, anthill.ErrStoreUnavailable) {
		t.Fatalf("snapshot error = %v, want ErrStoreUnavailable", err)
	}
	expectationsMet(t, mock)
}

// TestStoreEnsureSchema verifies the DDL pass runs each statement once.
func TestStoreEnsureSchema(t *testing.T) {
	_, mock := newStoreUnderTest(t)
	for range schemaStatements {
		mock.ExpectExec(`CREATE`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	if err := EnsureSchema(context.Background(), mock); err != nil {
		t.Fatalf("ensure schema failed: %v", err)
	}
	expectationsMet(t, mock)
}
