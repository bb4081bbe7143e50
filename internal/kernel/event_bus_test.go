package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"anthill/pkg/anthill"
)

// TestEventBusPublishDeliversMatchingSubscriptions verifies filtered publish delivery.
func TestEventBusPublishDeliversMatchingSubscriptions(t *testing.T) {
	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan *anthill.Event, 1)
	_, err := bus.Subscribe(context.Background(), anthill.SubscriptionSpec{
		Name: "match",
		Filter: anthill.InterestSet{
			Kinds: []anthill.EventKind{anthill.EventKindMessageCreated},
		},
	}, func(_ context.Context, event *anthill.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1", anthill.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case event := <-received:
		if event.ID != "e1" {
			t.Fatalf("event id = %s, want e1", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

// TestEventBusSkipsNonMatchingKinds verifies that filtered subscriptions stay silent.
func TestEventBusSkipsNonMatchingKinds(t *testing.T) {
	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan *anthill.Event, 1)
	_, err := bus.Subscribe(context.Background(), anthill.SubscriptionSpec{
		Name: "reactions-only",
		Filter: anthill.InterestSet{
			Kinds: []anthill.EventKind{anthill.EventKindReactionAdded},
		},
	}, func(_ context.Context, event *anthill.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestEvent("e1", anthill.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case event := <-received:
		t.Fatalf("unexpected delivery of %s", event.ID)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestEventBusBackpressurePolicies verifies queue behavior under each backpressure policy.
func TestEventBusBackpressurePolicies(t *testing.T) {
	tests := []struct {
		name       string
		policy     anthill.BackpressurePolicy
		wantEvents []string
	}{
		{
			name:       "drop newest keeps queued oldest",
			policy:     anthill.BackpressureDropNewest,
			wantEvents: []string{"e1", "e2"},
		},
		{
			name:       "drop oldest keeps latest",
			policy:     anthill.BackpressureDropOldest,
			wantEvents: []string{"e1", "e3"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			bus := NewEventBus(1, 1, time.Second, nil)
			t.Cleanup(func() {
				_ = bus.Close(context.Background())
			})

			release := make(chan struct{})
			blocked := make(chan struct{}, 1)
			processed := make([]string, 0, 3)
			var first sync.Once
			var mu sync.Mutex

			_, err := bus.Subscribe(context.Background(), anthill.SubscriptionSpec{
				Name: "policy",
				Filter: anthill.InterestSet{
					Kinds: []anthill.EventKind{anthill.EventKindMessageCreated},
				},
				Workers:      1,
				Buffer:       1,
				Backpressure: testCase.policy,
			}, func(_ context.Context, event *anthill.Event) error {
				first.Do(func() {
					blocked <- struct{}{}
					<-release
				})
				mu.Lock()
				processed = append(processed, event.ID)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			if err := bus.Publish(context.Background(), newTestEvent("e1", anthill.EventKindMessageCreated)); err != nil {
				t.Fatalf("publish e1 failed: %v", err)
			}
			select {
			case <-blocked:
			case <-time.After(time.Second):
				t.Fatal("handler did not block as expected")
			}
			if err := bus.Publish(context.Background(), newTestEvent("e2", anthill.EventKindMessageCreated)); err != nil {
				t.Fatalf("publish e2 failed: %v", err)
			}
			if err := bus.Publish(context.Background(), newTestEvent("e3", anthill.EventKindMessageCreated)); err != nil {
				t.Fatalf("publish e3 failed: %v", err)
			}

			close(release)
			eventually(t, 2*time.Second, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(processed) == 2
			})

			mu.Lock()
			gotEvents := append([]string(nil), processed...)
			mu.Unlock()
			if gotEvents[0] != testCase.wantEvents[0] || gotEvents[1] != testCase.wantEvents[1] {
				t.Fatalf("processed = %v, want %v", gotEvents, testCase.wantEvents)
			}
		})
	}
}

// TestEventBusCommandNameFilter verifies command-name interest filtering.
func TestEventBusCommandNameFilter(t *testing.T) {
	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	received := make(chan *anthill.Event, 2)
	_, err := bus.Subscribe(context.Background(), anthill.SubscriptionSpec{
		Name: "watch-only",
		Filter: anthill.InterestSet{
			Kinds:        []anthill.EventKind{anthill.EventKindCommandReceived},
			CommandNames: []string{"watch"},
		},
	}, func(_ context.Context, event *anthill.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := bus.Publish(context.Background(), newTestCommandEvent("c1", "watch")); err != nil {
		t.Fatalf("publish watch failed: %v", err)
	}
	if err := bus.Publish(context.Background(), newTestCommandEvent("c2", "help")); err != nil {
		t.Fatalf("publish help failed: %v", err)
	}

	select {
	case event := <-received:
		if event.ID != "c1" {
			t.Fatalf("event id = %s, want c1", event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch command")
	}
	select {
	case event := <-received:
		t.Fatalf("unexpected delivery of %s", event.ID)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestEventBusCloseRejectsNewPublish verifies publish rejection after bus closure.
func TestEventBusCloseRejectsNewPublish(t *testing.T) {
	bus := NewEventBus(8, 1, time.Second, nil)
	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	err := bus.Publish(context.Background(), newTestEvent("e1", anthill.EventKindMessageCreated))
	if err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
}

// TestEventBusPublishNilEventReturnsError verifies nil event publish safety.
func TestEventBusPublishNilEventReturnsError(t *testing.T) {
	bus := NewEventBus(8, 1, time.Second, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})

	if err := bus.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected nil event publish to fail")
	}
}

func newTestEvent(id string, kind anthill.EventKind) *anthill.Event {
	event := &anthill.Event{
		ID:          id,
		Kind:        kind,
		OccurredAt:  time.Now().UTC(),
		Platform:    anthill.PlatformTelegram,
		CommunityID: 100,
		ChannelID:   200,
		Actor:       anthill.Actor{ID: 300},
	}

	switch kind {
	case anthill.EventKindMessageCreated:
		event.Message = &anthill.Message{ID: 1, Text: "hello"}
	case anthill.EventKindMessageEdited:
		event.Mutation = &anthill.Mutation{Type: anthill.MutationTypeEdit, TargetMessageID: 1, After: "edited"}
	case anthill.EventKindMessageDeleted:
		event.Mutation = &anthill.Mutation{Type: anthill.MutationTypeDeletion, TargetMessageID: 1}
	case anthill.EventKindReactionAdded:
		event.Reaction = &anthill.Reaction{MessageID: 1, Emoji: "👍", Action: anthill.ReactionActionAdd}
	case anthill.EventKindReactionRemoved:
		event.Reaction = &anthill.Reaction{MessageID: 1, Emoji: "👍", Action: anthill.ReactionActionRemove}
	case anthill.EventKindMemberJoined, anthill.EventKindCommunityJoined:
		event.Membership = &anthill.MemberChange{Member: anthill.Actor{ID: 300}, JoinedAt: time.Now().UTC()}
	}

	return event
}

func newTestCommandEvent(id string, name string) *anthill.Event {
	return &anthill.Event{
		ID:          id,
		Kind:        anthill.EventKindCommandReceived,
		OccurredAt:  time.Now().UTC(),
		Platform:    anthill.PlatformTelegram,
		CommunityID: 100,
		ChannelID:   200,
		Actor:       anthill.Actor{ID: 300},
		Command: &anthill.CommandInvocation{
			Name:          name,
			SourceEventID: id + "-source",
		},
	}
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
