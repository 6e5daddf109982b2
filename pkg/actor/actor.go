// Package actor identifies the user or system performing ledger operations.
// The ledger core does not own authentication; collaborating modules attach
// an Actor to the context and the core records it on audit rows and
// reservations.
package actor

import (
	"context"
	"fmt"
)

// Actor represents the entity performing an action in the system.
type Actor struct {
	// ID is the unique identifier of the actor (user ID)
	ID string `json:"id"`

	// Name is the actor's display name
	Name string `json:"name"`

	// Module is the collaborating module the actor came through
	// (receiving, grading, packing, orders, wastage), if any.
	Module string `json:"module,omitempty"`
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.ID)
}

// contextKey is the type for context keys to avoid collisions
type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present (e.g., system operations).
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	actor, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return actor
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

const systemActorID = "00000000-0000-0000-0000-000000000000"

// SystemActor returns an Actor representing the system itself.
// Use this for background sweeps and other system-initiated operations.
func SystemActor() *Actor {
	return &Actor{
		ID:   systemActorID,
		Name: "System",
	}
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == systemActorID
}

// IDFromContext returns the actor ID from the context, falling back to the
// system actor for background work.
func IDFromContext(ctx context.Context) string {
	if a := FromContext(ctx); a != nil {
		return a.ID
	}
	return systemActorID
}
