package serverlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"anthill/internal/guildstate"
	"anthill/pkg/anthill"
)

type pairKey struct {
	communityID int64
	secondaryID int64
}

type aliasPairKey struct {
	communityID int64
	alias       string
}

type logKey struct {
	messageID int64
	kind      anthill.LogKind
	loggedAt  time.Time
}

// memoryStore mimics the duplicate-key behavior of the real store so the
// cascade reconciliation paths can be exercised without a database.
type memoryStore struct {
	mu          sync.Mutex
	communities map[int64]bool
	channels    map[pairKey]struct{}
	members     map[pairKey]struct{}
	aliases     map[aliasPairKey]string
	voiceLinks  map[pairKey]anthill.VoiceLink
	entries     []anthill.LogEntry
	entryKeys   map[logKey]struct{}

	failWrites error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		communities: make(map[int64]bool),
		channels:    make(map[pairKey]struct{}),
		members:     make(map[pairKey]struct{}),
		aliases:     make(map[aliasPairKey]string),
		voiceLinks:  make(map[pairKey]anthill.VoiceLink),
		entryKeys:   make(map[logKey]struct{}),
	}
}

func (s *memoryStore) Snapshot(context.Context) (*anthill.StoreSnapshot, error) {
	return &anthill.StoreSnapshot{}, nil
}

func (s *memoryStore) InsertCommunity(_ context.Context, community anthill.Community) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	if _, exists := s.communities[community.ID]; exists {
		return fmt.Errorf("insert community: %w", anthill.ErrDuplicateRecord)
	}
	s.communities[community.ID] = community.WatchMode
	return nil
}

func (s *memoryStore) UpdateWatchMode(_ context.Context, communityID int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	if _, exists := s.communities[communityID]; !exists {
		return fmt.Errorf("update watch mode: %w", anthill.ErrNotFound)
	}
	s.communities[communityID] = enabled
	return nil
}

func (s *memoryStore) InsertChannel(_ context.Context, channel anthill.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	key := pairKey{channel.CommunityID, channel.ID}
	if _, exists := s.channels[key]; exists {
		return fmt.Errorf("insert channel: %w", anthill.ErrDuplicateRecord)
	}
	s.channels[key] = struct{}{}
	return nil
}

func (s *memoryStore) InsertMember(_ context.Context, member anthill.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	key := pairKey{member.CommunityID, member.UserID}
	if _, exists := s.members[key]; exists {
		return fmt.Errorf("insert member: %w", anthill.ErrDuplicateRecord)
	}
	s.members[key] = struct{}{}
	return nil
}

func (s *memoryStore) InsertAlias(_ context.Context, alias anthill.CatalogAlias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	key := aliasPairKey{alias.CommunityID, alias.Alias}
	if _, exists := s.aliases[key]; exists {
		return fmt.Errorf("insert alias: %w", anthill.ErrDuplicateRecord)
	}
	s.aliases[key] = alias.Department
	return nil
}

func (s *memoryStore) InsertVoiceLink(_ context.Context, link anthill.VoiceLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	key := pairKey{link.CommunityID, link.VoiceChannelID}
	if _, exists := s.voiceLinks[key]; exists {
		return fmt.Errorf("insert voice link: %w", anthill.ErrDuplicateRecord)
	}
	s.voiceLinks[key] = link
	return nil
}

func (s *memoryStore) InsertLogEntry(_ context.Context, entry anthill.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	key := logKey{entry.MessageID, entry.Kind, entry.LoggedAt}
	if _, exists := s.entryKeys[key]; exists {
		return fmt.Errorf("insert log entry: %w", anthill.ErrDuplicateRecord)
	}
	s.entryKeys[key] = struct{}{}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memoryStore) UserLog(_ context.Context, communityID, userID int64, limit int) ([]anthill.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]anthill.LogEntry, 0)
	for index := len(s.entries) - 1; index >= 0 && len(matched) < limit; index-- {
		entry := s.entries[index]
		if entry.CommunityID == communityID && entry.UserID == userID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (s *memoryStore) ChannelLog(_ context.Context, communityID, channelID int64, limit int) ([]anthill.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]anthill.LogEntry, 0)
	for index := len(s.entries) - 1; index >= 0 && len(matched) < limit; index-- {
		entry := s.entries[index]
		if entry.CommunityID == communityID && entry.ChannelID == channelID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (s *memoryStore) counts() (communities, channels, members, entries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.communities), len(s.channels), len(s.members), len(s.entries)
}

func newLogEntry(messageID int64, content string) anthill.LogEntry {
	return anthill.LogEntry{
		MessageID:   messageID,
		CommunityID: 1,
		ChannelID:   10,
		UserID:      20,
		Content:     content,
		Kind:        anthill.LogKindOriginal,
		LoggedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(messageID) * time.Second),
	}
}

// TestCoordinatorCascadeCreatesParentsOnce verifies the two-call scenario:
// the first log call creates all parents, the second touches none of them.
func TestCoordinatorCascadeCreatesParentsOnce(t *testing.T) {
	store := newMemoryStore()
	cache := guildstate.NewCache()
	coordinator := NewCoordinator(store, cache)
	ctx := context.Background()

	if err := coordinator.LogMessage(ctx, newLogEntry(42, "hello")); err != nil {
		t.Fatalf("first log failed: %v", err)
	}
	communities, channels, members, entries := store.counts()
	if communities != 1 || channels != 1 || members != 1 || entries != 1 {
		t.Fatalf("store after first log = %d/%d/%d/%d, want 1/1/1/1", communities, channels, members, entries)
	}
	if enabled, known := cache.WatchMode(1); !known || enabled {
		t.Fatalf("fallback community watch mode = %v/%v, want false/true", enabled, known)
	}

	if err := coordinator.LogMessage(ctx, newLogEntry(43, "hi")); err != nil {
		t.Fatalf("second log failed: %v", err)
	}
	communities, channels, members, entries = store.counts()
	if communities != 1 || channels != 1 || members != 1 || entries != 2 {
		t.Fatalf("store after second log = %d/%d/%d/%d, want 1/1/1/2", communities, channels, members, entries)
	}
}

// TestCoordinatorReconcilesParentInsertRace verifies that losing the
// first-contact race on every parent insert still completes the cascade.
func TestCoordinatorReconcilesParentInsertRace(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	// Two workers with divergent caches hit the same never-seen tuple. The
	// second worker loses every parent insert with a duplicate-key failure.
	first := NewCoordinator(store, guildstate.NewCache())
	secondCache := guildstate.NewCache()
	second := NewCoordinator(store, secondCache)

	if err := first.LogMessage(ctx, newLogEntry(42, "hello")); err != nil {
		t.Fatalf("winning cascade failed: %v", err)
	}
	if err := second.LogMessage(ctx, newLogEntry(43, "hi")); err != nil {
		t.Fatalf("losing cascade failed: %v", err)
	}

	communities, channels, members, entries := store.counts()
	if communities != 1 || channels != 1 || members != 1 || entries != 2 {
		t.Fatalf("store = %d/%d/%d/%d, want 1/1/1/2", communities, channels, members, entries)
	}
	if !secondCache.HasCommunity(1) || !secondCache.HasChannel(1, 10) || !secondCache.HasMember(1, 20) {
		t.Fatal("losing worker must re-derive cache entries after duplicate-key reconciliation")
	}
}

// TestCoordinatorConcurrentCascades verifies the idempotent cascade under
// real interleaving on one shared cache.
func TestCoordinatorConcurrentCascades(t *testing.T) {
	store := newMemoryStore()
	cache := guildstate.NewCache()
	coordinator := NewCoordinator(store, cache)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(messageID int64) {
			defer wg.Done()
			errs <- coordinator.LogMessage(ctx, newLogEntry(messageID, "race"))
		}(int64(100 + worker))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("cascade failed under concurrency: %v", err)
		}
	}
	communities, channels, members, entries := store.counts()
	if communities != 1 || channels != 1 || members != 1 || entries != workers {
		t.Fatalf("store = %d/%d/%d/%d, want 1/1/1/%d", communities, channels, members, entries, workers)
	}
}

// TestCoordinatorAbortsWhenStoreUnavailable verifies the no-retry policy
// and that the cache never runs ahead of a failed store write.
func TestCoordinatorAbortsWhenStoreUnavailable(t *testing.T) {
	store := newMemoryStore()
	store.failWrites = fmt.Errorf("insert: %w", anthill.ErrStoreUnavailable)
	cache := guildstate.NewCache()
	coordinator := NewCoordinator(store, cache)

	err := coordinator.LogMessage(context.Background(), newLogEntry(42, "hello"))
	if !errors.Is(err, anthill.ErrStoreUnavailable) {
		t.Fatalf("log error = %v, want ErrStoreUnavailable", err)
	}
	if cache.HasCommunity(1) {
		t.Fatal("cache recorded a community the store rejected")
	}
	if _, _, _, entries := store.counts(); entries != 0 {
		t.Fatalf("entries = %d, want 0", entries)
	}
}

// TestCoordinatorLogDuplicateEntrySurfaces verifies that only parent
// duplicates are swallowed, not duplicates of the log row itself.
func TestCoordinatorLogDuplicateEntrySurfaces(t *testing.T) {
	store := newMemoryStore()
	coordinator := NewCoordinator(store, guildstate.NewCache())
	ctx := context.Background()

	entry := newLogEntry(42, "hello")
	if err := coordinator.LogMessage(ctx, entry); err != nil {
		t.Fatalf("first log failed: %v", err)
	}
	if err := coordinator.LogMessage(ctx, entry); !errors.Is(err, anthill.ErrDuplicateRecord) {
		t.Fatalf("duplicate log error = %v, want ErrDuplicateRecord", err)
	}
}

// TestCoordinatorLogMessageNormalizesTimestamp verifies UTC normalization.
func TestCoordinatorLogMessageNormalizesTimestamp(t *testing.T) {
	store := newMemoryStore()
	coordinator := NewCoordinator(store, guildstate.NewCache())

	entry := newLogEntry(42, "hello")
	entry.LoggedAt = time.Date(2024, 3, 1, 4, 0, 0, 0, time.FixedZone("PST", -8*3600))
	if err := coordinator.LogMessage(context.Background(), entry); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	store.mu.Lock()
	stored := store.entries[0]
	store.mu.Unlock()
	if zone, _ := stored.LoggedAt.Zone(); zone != "UTC" {
		t.Fatalf("stored zone = %s, want UTC", zone)
	}
}

// TestCoordinatorLogMessageRejectsInvalidEntry verifies validation gating.
func TestCoordinatorLogMessageRejectsInvalidEntry(t *testing.T) {
	store := newMemoryStore()
	coordinator := NewCoordinator(store, guildstate.NewCache())

	entry := newLogEntry(42, "hello")
	entry.Kind = "bogus"
	if err := coordinator.LogMessage(context.Background(), entry); !errors.Is(err, anthill.ErrInvalidArgument) {
		t.Fatalf("invalid entry error = %v, want ErrInvalidArgument", err)
	}
	if _, _, _, entries := store.counts(); entries != 0 {
		t.Fatalf("entries = %d, want 0", entries)
	}
}

// TestCoordinatorSetWatchMode verifies all three watch-mode paths.
func TestCoordinatorSetWatchMode(t *testing.T) {
	store := newMemoryStore()
	cache := guildstate.NewCache()
	coordinator := NewCoordinator(store, cache)
	ctx := context.Background()

	// Unknown community: created with the requested mode.
	if err := coordinator.SetWatchMode(ctx, 1, true); err != nil {
		t.Fatalf("set watch mode (insert path) failed: %v", err)
	}
	if enabled, known := cache.WatchMode(1); !known || !enabled {
		t.Fatalf("cache watch mode = %v/%v, want true/true", enabled, known)
	}

	// Known community: plain update.
	if err := coordinator.SetWatchMode(ctx, 1, false); err != nil {
		t.Fatalf("set watch mode (update path) failed: %v", err)
	}
	if enabled, _ := cache.WatchMode(1); enabled {
		t.Fatal("cache watch mode still enabled after update")
	}

	// Store row exists but the cache missed it: duplicate insert resolves
	// into the update path.
	staleCache := guildstate.NewCache()
	stale := NewCoordinator(store, staleCache)
	if err := stale.SetWatchMode(ctx, 1, true); err != nil {
		t.Fatalf("set watch mode (race path) failed: %v", err)
	}
	if enabled, known := staleCache.WatchMode(1); !known || !enabled {
		t.Fatalf("stale cache watch mode = %v/%v, want true/true", enabled, known)
	}
	store.mu.Lock()
	storedMode := store.communities[1]
	store.mu.Unlock()
	if !storedMode {
		t.Fatal("store watch mode not updated on the race path")
	}
}

// TestCoordinatorAddAlias verifies alias writes and duplicate surfacing.
func TestCoordinatorAddAlias(t *testing.T) {
	store := newMemoryStore()
	cache := guildstate.NewCache()
	coordinator := NewCoordinator(store, cache)
	ctx := context.Background()

	alias := anthill.CatalogAlias{CommunityID: 1, Alias: "ics", Department: "I&C SCI"}
	if err := coordinator.AddAlias(ctx, alias); err != nil {
		t.Fatalf("add alias failed: %v", err)
	}
	if department, ok := cache.Alias(1, "ics"); !ok || department != "I&C SCI" {
		t.Fatalf("cached alias = %q/%v, want I&C SCI/true", department, ok)
	}

	if err := coordinator.AddAlias(ctx, alias); !errors.Is(err, anthill.ErrDuplicateRecord) {
		t.Fatalf("duplicate alias error = %v, want ErrDuplicateRecord", err)
	}
	if err := coordinator.AddAlias(ctx, anthill.CatalogAlias{CommunityID: 1}); !errors.Is(err, anthill.ErrInvalidArgument) {
		t.Fatalf("empty alias error = %v, want ErrInvalidArgument", err)
	}
}

// TestCoordinatorAddVoiceLink verifies voice link writes.
func TestCoordinatorAddVoiceLink(t *testing.T) {
	store := newMemoryStore()
	cache := guildstate.NewCache()
	coordinator := NewCoordinator(store, cache)
	ctx := context.Background()

	link := anthill.VoiceLink{CommunityID: 1, VoiceChannelID: 30, TextChannelID: 31, RoleID: 32}
	if err := coordinator.AddVoiceLink(ctx, link); err != nil {
		t.Fatalf("add voice link failed: %v", err)
	}
	if cached, ok := cache.VoiceLink(1, 30); !ok || cached.TextChannelID != 31 {
		t.Fatalf("cached voice link = %+v/%v", cached, ok)
	}
	if err := coordinator.AddVoiceLink(ctx, anthill.VoiceLink{CommunityID: 1}); !errors.Is(err, anthill.ErrInvalidArgument) {
		t.Fatalf("invalid link error = %v, want ErrInvalidArgument", err)
	}
}

// TestCoordinatorLogReads verifies read-through log queries and the
// default limit.
func TestCoordinatorLogReads(t *testing.T) {
	store := newMemoryStore()
	coordinator := NewCoordinator(store, guildstate.NewCache())
	ctx := context.Background()

	for messageID := int64(1); messageID <= 3; messageID++ {
		if err := coordinator.LogMessage(ctx, newLogEntry(messageID, "m")); err != nil {
			t.Fatalf("log failed: %v", err)
		}
	}

	userEntries, err := coordinator.UserLog(ctx, 1, 20, 0)
	if err != nil {
		t.Fatalf("user log failed: %v", err)
	}
	if len(userEntries) != 3 || userEntries[0].MessageID != 3 {
		t.Fatalf("user log = %+v, want 3 entries newest first", userEntries)
	}

	channelEntries, err := coordinator.ChannelLog(ctx, 1, 10, 2)
	if err != nil {
		t.Fatalf("channel log failed: %v", err)
	}
	if len(channelEntries) != 2 {
		t.Fatalf("channel log entries = %d, want 2", len(channelEntries))
	}
}
