// Package commbus provides the communication bus protocols and implementation.
//
// This module defines the CANONICAL messaging protocols for the JASON core.
// All components depend on these protocols, not implementations: the plan
// executor and the policy pipeline write decisions and suspension notices to
// a CommBus without knowing whether the other end is an in-process dashboard
// or a NATS subject.
//
// Protocol Categories:
//   - CommBus Protocols: Message, Query, CommBus, Middleware
//   - Delivery Protocols: Prioritized (urgent fan-out)
//   - Shared Protocols: Logger
package commbus

import (
	"context"
)

// =============================================================================
// DELIVERY PRIORITY
// =============================================================================

// DeliveryPriority controls how an event is fanned out to subscribers.
type DeliveryPriority string

const (
	// PriorityNormal delivers to subscribers concurrently.
	PriorityNormal DeliveryPriority = "normal"
	// PriorityUrgent delivers synchronously, in registration order, before
	// Publish returns. Used for gate decisions and interaction requests so
	// pending-approval queues are updated promptly.
	PriorityUrgent DeliveryPriority = "urgent"
)

// Prioritized is an optional interface for messages that request a specific
// delivery priority. Messages without it get PriorityNormal.
type Prioritized interface {
	Message
	Priority() DeliveryPriority
}

// MessagePriority returns the delivery priority for a message.
func MessagePriority(msg Message) DeliveryPriority {
	if p, ok := msg.(Prioritized); ok {
		return p.Priority()
	}
	return PriorityNormal
}

// =============================================================================
// COMMBUS PROTOCOLS
// =============================================================================

// Message is the protocol for all commbus messages.
// All messages (events, queries, commands) must have a category.
type Message interface {
	// Category returns the message category: "event", "query", or "command".
	Category() string
}

// Query is the protocol for query messages that expect a response.
// Queries are request-response: send query, get response.
type Query interface {
	Message
	// IsQuery is a marker method to distinguish queries from other messages.
	IsQuery()
}

// Handler is the protocol for message handlers.
// Handlers process messages and optionally return responses (for queries).
type Handler interface {
	// Handle processes a message and returns a response for queries.
	Handle(ctx context.Context, message Message) (any, error)
}

// HandlerFunc is a function type that implements Handler.
type HandlerFunc func(ctx context.Context, message Message) (any, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, message Message) (any, error) {
	return f(ctx, message)
}

// Middleware is the protocol for commbus middleware.
// Middleware can intercept messages before/after handling.
// Used for logging, telemetry, circuit breaking, etc.
type Middleware interface {
	// Before is called before message is handled.
	// Returns modified message, or nil to abort processing.
	Before(ctx context.Context, message Message) (Message, error)

	// After is called after message is handled.
	// Returns modified result.
	After(ctx context.Context, message Message, result any, err error) (any, error)
}

// CommBus is the protocol for the communication bus.
//
// The CommBus provides three messaging patterns:
//   - Publish(event): Fire-and-forget, fan-out to all subscribers
//   - Send(command): Fire-and-forget, single handler
//   - QuerySync(query): Request-response, returns result
//
// Publish honors the Prioritized interface: urgent events are delivered
// synchronously before Publish returns.
type CommBus interface {
	// Publish publishes an event to all subscribers.
	// Events are fire-and-forget with fan-out semantics.
	Publish(ctx context.Context, event Message) error

	// Send sends a command to its handler.
	// Commands are fire-and-forget with single-handler semantics.
	Send(ctx context.Context, command Message) error

	// QuerySync sends a query and waits for response.
	// Queries are request-response with single-handler semantics.
	QuerySync(ctx context.Context, query Query) (any, error)

	// Subscribe subscribes to an event type.
	// Returns an unsubscribe function.
	Subscribe(eventType string, handler HandlerFunc) func()

	// RegisterHandler registers a handler for a message type.
	// Only one handler per message type is allowed.
	RegisterHandler(messageType string, handler HandlerFunc) error

	// AddMiddleware adds middleware to the bus.
	// Middleware is executed in registration order.
	AddMiddleware(middleware Middleware)

	// HasHandler checks if a handler is registered for a message type.
	HasHandler(messageType string) bool

	// GetSubscribers gets all subscribers for an event type.
	GetSubscribers(eventType string) []HandlerFunc

	// Clear removes all handlers, subscribers, and middleware.
	Clear()
}

// =============================================================================
// SHARED PROTOCOLS
// =============================================================================

// Logger is the canonical protocol for structured logging.
// Implementations bind key/value pairs and emit leveled events.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}
