package domain

import "context"

// SnapshotHandler receives the full ordered message log every time it changes.
type SnapshotHandler func(messages []Message)

// Subscription is a handle on an active log subscription.
type Subscription interface {
	// Cancel stops further deliveries. It is safe to call more than once.
	Cancel()
}

// MessageStore defines the contract for the shared, append-only message log.
// It lives in the domain because it's a requirement OF the chat session, not
// of any particular backend.
type MessageStore interface {
	// Subscribe registers onUpdate for full ordered snapshots, oldest first.
	// Deliveries for one subscription never overlap and never go backwards.
	// The current log is delivered once as soon as the subscription is live.
	Subscribe(ctx context.Context, onUpdate SnapshotHandler) (Subscription, error)

	// Append records a new message and returns its server-assigned ID.
	// Returns ErrInvalidDraft for unpublishable drafts and ErrWriteFailed
	// when the write channel is unreachable.
	Append(ctx context.Context, draft Draft) (MessageID, error)

	// MutateReactions replaces the reactions of a message wholesale.
	// Returns ErrNotFound if the message does not exist and ErrWriteFailed
	// on transport errors.
	MutateReactions(ctx context.Context, id MessageID, reactions Reactions) error
}
