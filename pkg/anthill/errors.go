package anthill

import "errors"

var (
	// ErrStoreUnavailable indicates a transient persistent-store failure.
	// It is surfaced to callers unchanged and never retried inside the core.
	ErrStoreUnavailable = errors.New("anthill: store unavailable")
	// ErrDuplicateRecord indicates a unique/primary-key violation on insert.
	ErrDuplicateRecord = errors.New("anthill: duplicate record")
	// ErrConstraintViolation indicates a non-duplicate integrity violation.
	ErrConstraintViolation = errors.New("anthill: constraint violation")
	// ErrNotFound indicates a point lookup miss in the persistent store.
	ErrNotFound = errors.New("anthill: record not found")
	// ErrInvalidArgument indicates construction-time misuse of a core component.
	ErrInvalidArgument = errors.New("anthill: invalid argument")
	// ErrInvalidEvent indicates that an event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("anthill: invalid event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("anthill: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("anthill: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("anthill: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("anthill: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("anthill: service not found")
	// ErrModuleAlreadyRegistered indicates duplicate module registration.
	ErrModuleAlreadyRegistered = errors.New("anthill: module already registered")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("anthill: driver already registered")
	// ErrInvalidOutboundRequest indicates a malformed outbound operation request.
	ErrInvalidOutboundRequest = errors.New("anthill: invalid outbound request")
	// ErrSessionTerminated indicates an action against an already-terminated
	// pagination session.
	ErrSessionTerminated = errors.New("anthill: pagination session terminated")
)
