package pager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anthill/pkg/anthill"
)

// session is the interactive state machine behind one rendered result
// message. Every action funnels through the session mutex, so navigation
// arriving from parallel bus workers is serialized per session.
//
// Terminal state is latched: once terminated, all further actions are
// no-ops, including a second expiry racing a manual delete.
type session struct {
	id         string
	ownerID    int64
	target     anthill.OutboundTarget
	messageID  int64
	pages      []string
	deadline   time.Time
	dispatcher anthill.OutboundDispatcher

	mu         sync.Mutex
	index      int
	terminated bool
}

func newSession(
	id string,
	request anthill.PagerOpenRequest,
	messageID int64,
	deadline time.Time,
	dispatcher anthill.OutboundDispatcher,
) *session {
	return &session{
		id:         id,
		ownerID:    request.OwnerID,
		target:     request.Target,
		messageID:  messageID,
		pages:      append([]string(nil), request.Pages...),
		deadline:   deadline,
		dispatcher: dispatcher,
	}
}

// authorized reports whether the actor owns this session. Actions from
// anyone else are ignored without a visible error.
func (s *session) authorized(actorID int64) bool {
	return actorID == s.ownerID
}

func (s *session) next(ctx context.Context) {
	s.navigate(ctx, 1)
}

func (s *session) prev(ctx context.Context) {
	s.navigate(ctx, -1)
}

// navigate advances the raw index and re-renders in place. Render failures
// never surface to the caller: a stale target terminates the session, a
// transient failure leaves it live for the next action.
func (s *session) navigate(ctx context.Context, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return
	}

	s.index += delta
	err := s.dispatcher.EditMessage(ctx, anthill.EditMessageRequest{
		Target:    s.target,
		MessageID: s.messageID,
		Text:      renderPage(s.pages, s.currentPage(), true),
	})
	if err != nil && anthill.IsStaleRenderTarget(err) {
		s.terminated = true
	}
}

// deleteMessage removes the rendered message and terminates the session.
// Deletion failures are swallowed; the session terminates either way.
func (s *session) deleteMessage(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return
	}
	s.terminated = true

	_ = s.dispatcher.DeleteMessage(ctx, anthill.DeleteMessageRequest{
		Target:    s.target,
		MessageID: s.messageID,
	})
}

// expire terminates the session and strips the interactive footer from the
// rendered message. Idempotent, and best-effort on the strip edit.
func (s *session) expire(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return
	}
	s.terminated = true

	_ = s.dispatcher.EditMessage(ctx, anthill.EditMessageRequest{
		Target:    s.target,
		MessageID: s.messageID,
		Text:      renderPage(s.pages, s.currentPage(), false),
	})
}

func (s *session) expired(now time.Time) bool {
	return now.After(s.deadline)
}

func (s *session) isTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.terminated
}

// currentPage folds the unbounded raw index onto a valid page number.
// Callers must hold the session mutex.
func (s *session) currentPage() int {
	return floorMod(s.index, len(s.pages))
}

// floorMod is the non-negative modulo. The raw index goes negative after
// prev() at page zero, and Go's % operator would hand back a negative
// remainder there.
func floorMod(value, modulus int) int {
	remainder := value % modulus
	if remainder < 0 {
		remainder += modulus
	}
	return remainder
}

func renderPage(pages []string, page int, interactive bool) string {
	footer := fmt.Sprintf("Page %d/%d", page+1, len(pages))
	if interactive {
		footer += fmt.Sprintf(" · react %s %s %s", emojiPrev, emojiNext, emojiDelete)
	}
	return pages[page] + "\n\n" + footer
}
