package guildstate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"anthill/pkg/anthill"
)

type snapshotStore struct {
	snapshot *anthill.StoreSnapshot
	err      error
}

func (s *snapshotStore) Snapshot(context.Context) (*anthill.StoreSnapshot, error) {
	return s.snapshot, s.err
}

func (s *snapshotStore) InsertCommunity(context.Context, anthill.Community) error { return nil }
func (s *snapshotStore) UpdateWatchMode(context.Context, int64, bool) error       { return nil }
func (s *snapshotStore) InsertChannel(context.Context, anthill.Channel) error     { return nil }
func (s *snapshotStore) InsertMember(context.Context, anthill.Member) error       { return nil }
func (s *snapshotStore) InsertAlias(context.Context, anthill.CatalogAlias) error  { return nil }
func (s *snapshotStore) InsertVoiceLink(context.Context, anthill.VoiceLink) error { return nil }
func (s *snapshotStore) InsertLogEntry(context.Context, anthill.LogEntry) error   { return nil }
func (s *snapshotStore) UserLog(context.Context, int64, int64, int) ([]anthill.LogEntry, error) {
	return nil, nil
}
func (s *snapshotStore) ChannelLog(context.Context, int64, int64, int) ([]anthill.LogEntry, error) {
	return nil, nil
}

// TestCacheLoadPopulatesAllRecordKinds verifies one-shot snapshot hydration.
func TestCacheLoadPopulatesAllRecordKinds(t *testing.T) {
	cache := NewCache()
	store := &snapshotStore{snapshot: &anthill.StoreSnapshot{
		Communities: []anthill.Community{{ID: 1, WatchMode: true}, {ID: 2}},
		Channels:    []anthill.Channel{{CommunityID: 1, ID: 10}},
		Members:     []anthill.Member{{CommunityID: 1, UserID: 20}},
		Aliases:     []anthill.CatalogAlias{{CommunityID: 1, Alias: "ICS", Department: "I&C SCI"}},
		VoiceLinks:  []anthill.VoiceLink{{CommunityID: 1, VoiceChannelID: 30, TextChannelID: 31, RoleID: 32}},
	}}

	if err := cache.Load(context.Background(), store); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if !cache.HasCommunity(1) || !cache.HasCommunity(2) {
		t.Fatal("communities missing after load")
	}
	if enabled, known := cache.WatchMode(1); !known || !enabled {
		t.Fatalf("watch mode (1) = %v/%v, want true/true", enabled, known)
	}
	if enabled, known := cache.WatchMode(2); !known || enabled {
		t.Fatalf("watch mode (2) = %v/%v, want false/true", enabled, known)
	}
	if !cache.HasChannel(1, 10) {
		t.Fatal("channel missing after load")
	}
	if !cache.HasMember(1, 20) {
		t.Fatal("member missing after load")
	}
	if department, ok := cache.Alias(1, "ics"); !ok || department != "I&C SCI" {
		t.Fatalf("alias lookup = %q/%v, want I&C SCI/true", department, ok)
	}
	if link, ok := cache.VoiceLink(1, 30); !ok || link.TextChannelID != 31 || link.RoleID != 32 {
		t.Fatalf("voice link lookup = %+v/%v", link, ok)
	}
}

// TestCacheLoadSurfacesStoreFailure verifies that load failures abort hydration.
func TestCacheLoadSurfacesStoreFailure(t *testing.T) {
	cache := NewCache()
	store := &snapshotStore{err: fmt.Errorf("snapshot: %w", anthill.ErrStoreUnavailable)}

	err := cache.Load(context.Background(), store)
	if !errors.Is(err, anthill.ErrStoreUnavailable) {
		t.Fatalf("load error = %v, want ErrStoreUnavailable", err)
	}
	if cache.HasCommunity(1) {
		t.Fatal("cache must stay empty after failed load")
	}
}

// TestCacheLoadRejectsSecondLoad verifies the load-once contract.
func TestCacheLoadRejectsSecondLoad(t *testing.T) {
	cache := NewCache()
	store := &snapshotStore{snapshot: &anthill.StoreSnapshot{}}

	if err := cache.Load(context.Background(), store); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if err := cache.Load(context.Background(), store); err == nil {
		t.Fatal("expected second load to fail")
	}
}

// TestCacheMissBeforeRecord verifies that reads never claim unrecorded rows.
func TestCacheMissBeforeRecord(t *testing.T) {
	cache := NewCache()

	if cache.HasCommunity(1) {
		t.Fatal("empty cache claimed community existence")
	}
	if cache.HasChannel(1, 10) {
		t.Fatal("empty cache claimed channel existence")
	}
	if cache.HasMember(1, 20) {
		t.Fatal("empty cache claimed member existence")
	}

	cache.RecordCommunity(anthill.Community{ID: 1})
	cache.RecordChannel(anthill.Channel{CommunityID: 1, ID: 10})
	cache.RecordMember(anthill.Member{CommunityID: 1, UserID: 20})

	if !cache.HasCommunity(1) || !cache.HasChannel(1, 10) || !cache.HasMember(1, 20) {
		t.Fatal("recorded rows not visible")
	}
	if cache.HasChannel(2, 10) || cache.HasMember(1, 21) {
		t.Fatal("cache leaked existence across keys")
	}
}

// TestCacheRecordCommunityKeepsExistingWatchFlag verifies duplicate-race re-record safety.
func TestCacheRecordCommunityKeepsExistingWatchFlag(t *testing.T) {
	cache := NewCache()

	cache.RecordCommunity(anthill.Community{ID: 1})
	cache.SetWatchMode(1, true)

	// The loser of a first-contact race re-records with the default flag.
	cache.RecordCommunity(anthill.Community{ID: 1, WatchMode: false})

	if enabled, known := cache.WatchMode(1); !known || !enabled {
		t.Fatalf("watch mode = %v/%v, want true/true", enabled, known)
	}
}

// TestCacheSetWatchModeUnknownCommunityIsNoop verifies no phantom community rows.
func TestCacheSetWatchModeUnknownCommunityIsNoop(t *testing.T) {
	cache := NewCache()

	cache.SetWatchMode(99, true)

	if cache.HasCommunity(99) {
		t.Fatal("SetWatchMode created a community entry")
	}
}

// TestCacheCounts verifies per-community channel/member counting.
func TestCacheCounts(t *testing.T) {
	cache := NewCache()

	cache.RecordCommunity(anthill.Community{ID: 1})
	cache.RecordChannel(anthill.Channel{CommunityID: 1, ID: 10})
	cache.RecordChannel(anthill.Channel{CommunityID: 1, ID: 11})
	cache.RecordChannel(anthill.Channel{CommunityID: 2, ID: 10})
	cache.RecordMember(anthill.Member{CommunityID: 1, UserID: 20})

	if count := cache.ChannelCount(1); count != 2 {
		t.Fatalf("channel count = %d, want 2", count)
	}
	if count := cache.MemberCount(1); count != 1 {
		t.Fatalf("member count = %d, want 1", count)
	}
	if count := cache.ChannelCount(3); count != 0 {
		t.Fatalf("channel count (3) = %d, want 0", count)
	}
}

// TestCacheAliasNormalization verifies case-insensitive alias identity.
func TestCacheAliasNormalization(t *testing.T) {
	cache := NewCache()

	cache.RecordAlias(anthill.CatalogAlias{CommunityID: 1, Alias: "  CS ", Department: "COMPSCI"})

	if department, ok := cache.Alias(1, "cs"); !ok || department != "COMPSCI" {
		t.Fatalf("alias lookup = %q/%v, want COMPSCI/true", department, ok)
	}
	if _, ok := cache.Alias(2, "cs"); ok {
		t.Fatal("alias leaked across communities")
	}
}
