package anthill

import (
	"context"
	"fmt"
)

// ServicePager is the canonical service registry key for paginated result sessions.
const ServicePager = "anthill.pager"

// PagerOpenRequest describes one new paginated result session.
type PagerOpenRequest struct {
	// OwnerID identifies the only actor allowed to navigate the session.
	OwnerID int64
	// Target identifies the channel the rendered message is posted to.
	Target OutboundTarget
	// Pages holds the pre-rendered page bodies, in display order.
	Pages []string
	// ReplyToMessageID optionally links the rendered message as a reply.
	ReplyToMessageID int64
}

// Validate checks the request envelope before a session is opened.
func (r PagerOpenRequest) Validate() error {
	if r.OwnerID == 0 {
		return fmt.Errorf("%w: missing owner id", ErrInvalidArgument)
	}
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate pager target: %w", err)
	}
	if len(r.Pages) == 0 {
		return fmt.Errorf("%w: pager session requires at least one page", ErrInvalidArgument)
	}

	return nil
}

// Pager opens reaction-navigated paginated result sessions on behalf of
// other modules.
type Pager interface {
	// Open renders the first page into the target channel and registers a
	// navigable session bound to the rendered message.
	Open(ctx context.Context, request PagerOpenRequest) (*OutboundMessage, error)
}
