// Package docstore exposes the remote issues collection as full-snapshot
// subscriptions: every backend-side change delivers the complete current
// contents, never a diff.
package docstore

import "context"

// Document is one untyped record from a collection. Shape validation belongs
// to the consumer.
type Document map[string]interface{}

// Subscription delivers collection snapshots until cancelled. Err carries at
// most one terminal failure; after it fires the subscription is dead and the
// consumer decides whether to resubscribe.
type Subscription interface {
	Snapshots() <-chan []Document
	Err() <-chan error
	Cancel()
}

// Store serves collection snapshots, one-shot or subscribed.
type Store interface {
	EnsureCollection(ctx context.Context, collection string) error
	Snapshot(ctx context.Context, collection string) ([]Document, error)
	Subscribe(ctx context.Context, collection string) (Subscription, error)
	Close() error
}
