package kernel

import (
	"context"
	"sync"
	"testing"
	"time"

	"anthill/pkg/anthill"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*anthill.Event
}

func (s *recordingSink) Publish(_ context.Context, event *anthill.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) snapshot() []*anthill.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*anthill.Event(nil), s.events...)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []anthill.SendMessageRequest
}

func (d *recordingDispatcher) SendMessage(
	_ context.Context,
	request anthill.SendMessageRequest,
) (*anthill.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, request)
	return &anthill.OutboundMessage{ID: 1, Target: request.Target}, nil
}

func (d *recordingDispatcher) EditMessage(context.Context, anthill.EditMessageRequest) error {
	return nil
}

func (d *recordingDispatcher) DeleteMessage(context.Context, anthill.DeleteMessageRequest) error {
	return nil
}

func newSinkUnderTest(base anthill.EventSink, specs map[string]anthill.CommandSpec, services anthill.ServiceRegistry) *commandDerivingSink {
	return &commandDerivingSink{
		base: base,
		lookupCommand: func(name string) (anthill.CommandSpec, bool) {
			spec, ok := specs[name]
			return spec, ok
		},
		serviceLookup: services,
	}
}

func newCommandSourceEvent(text string) *anthill.Event {
	return &anthill.Event{
		ID:          "src-1",
		Kind:        anthill.EventKindMessageCreated,
		OccurredAt:  time.Now().UTC(),
		Platform:    anthill.PlatformTelegram,
		CommunityID: 100,
		ChannelID:   200,
		Actor:       anthill.Actor{ID: 300},
		Message:     &anthill.Message{ID: 11, Text: text},
	}
}

// TestCommandSinkDerivesCommandEvent verifies source + derived dual publish.
func TestCommandSinkDerivesCommandEvent(t *testing.T) {
	base := &recordingSink{}
	sink := newSinkUnderTest(base, map[string]anthill.CommandSpec{
		"watch": {Name: "watch"},
	}, nil)

	if err := sink.Publish(context.Background(), newCommandSourceEvent("/watch on")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	events := base.snapshot()
	if len(events) != 2 {
		t.Fatalf("published events = %d, want 2", len(events))
	}
	if events[0].Kind != anthill.EventKindMessageCreated {
		t.Fatalf("first event kind = %s, want message.created", events[0].Kind)
	}
	derived := events[1]
	if derived.Kind != anthill.EventKindCommandReceived {
		t.Fatalf("second event kind = %s, want command.received", derived.Kind)
	}
	if derived.Command == nil || derived.Command.Name != "watch" {
		t.Fatalf("derived command = %+v, want watch", derived.Command)
	}
	if derived.Command.Value != "on" {
		t.Fatalf("derived command value = %q, want on", derived.Command.Value)
	}
	if derived.CommunityID != 100 || derived.ChannelID != 200 {
		t.Fatalf("derived scope = %d/%d, want 100/200", derived.CommunityID, derived.ChannelID)
	}
}

// TestCommandSinkIgnoresUnregisteredCommands verifies silent pass-through.
func TestCommandSinkIgnoresUnregisteredCommands(t *testing.T) {
	base := &recordingSink{}
	sink := newSinkUnderTest(base, map[string]anthill.CommandSpec{}, nil)

	if err := sink.Publish(context.Background(), newCommandSourceEvent("/unknown")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if events := base.snapshot(); len(events) != 1 {
		t.Fatalf("published events = %d, want 1", len(events))
	}
}

// TestCommandSinkIgnoresPlainMessages verifies no derivation for non-command text.
func TestCommandSinkIgnoresPlainMessages(t *testing.T) {
	base := &recordingSink{}
	sink := newSinkUnderTest(base, map[string]anthill.CommandSpec{
		"watch": {Name: "watch"},
	}, nil)

	if err := sink.Publish(context.Background(), newCommandSourceEvent("just chatting")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if events := base.snapshot(); len(events) != 1 {
		t.Fatalf("published events = %d, want 1", len(events))
	}
}

// TestCommandSinkRepliesOnBindError verifies usage reply for malformed invocations.
func TestCommandSinkRepliesOnBindError(t *testing.T) {
	registry := NewServiceRegistry()
	dispatcher := &recordingDispatcher{}
	if err := registry.Register(anthill.ServiceOutboundDispatcher, anthill.OutboundDispatcher(dispatcher)); err != nil {
		t.Fatalf("register dispatcher failed: %v", err)
	}

	base := &recordingSink{}
	sink := newSinkUnderTest(base, map[string]anthill.CommandSpec{
		"courses": {
			Name: "courses",
			Options: []anthill.CommandOptionSpec{
				{Name: "dept", HasValue: true},
			},
		},
	}, registry)

	if err := sink.Publish(context.Background(), newCommandSourceEvent("/courses --dept")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if events := base.snapshot(); len(events) != 1 {
		t.Fatalf("published events = %d, want 1 (no derived command)", len(events))
	}

	dispatcher.mu.Lock()
	sent := append([]anthill.SendMessageRequest(nil), dispatcher.sent...)
	dispatcher.mu.Unlock()
	if len(sent) != 1 {
		t.Fatalf("error replies = %d, want 1", len(sent))
	}
	if sent[0].Target.CommunityID != 100 || sent[0].ReplyToMessageID != 11 {
		t.Fatalf("reply routing = %+v, want community 100 reply-to 11", sent[0])
	}
}
