package docstore

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store for tests and local runs. Push replaces a
// collection's contents and fans the new snapshot out to subscribers.
type MemStore struct {
	mu          sync.Mutex
	collections map[string][]Document
	subs        map[string][]*memSub
	closed      bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		collections: make(map[string][]Document),
		subs:        make(map[string][]*memSub),
	}
}

// Push replaces the collection contents and delivers the new snapshot to
// every live subscriber.
func (s *MemStore) Push(collection string, docs []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections[collection] = docs
	for _, sub := range s.subs[collection] {
		sub.push(docs)
	}
}

// Fail delivers a terminal error to every live subscriber of the collection.
func (s *MemStore) Fail(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs[collection] {
		sub.fail(err)
	}
}

// EnsureCollection makes the collection exist; in memory that is a no-op
// beyond reserving the name.
func (s *MemStore) EnsureCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = nil
	}
	return nil
}

// Snapshot returns the current collection contents.
func (s *MemStore) Snapshot(ctx context.Context, collection string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	docs := make([]Document, len(s.collections[collection]))
	copy(docs, s.collections[collection])
	return docs, nil
}

// Subscribe registers a subscriber and delivers the current contents
// immediately.
func (s *MemStore) Subscribe(ctx context.Context, collection string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	sub := &memSub{
		snapshots: make(chan []Document, 16),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}
	s.subs[collection] = append(s.subs[collection], sub)
	sub.push(s.collections[collection])
	return sub, nil
}

// Close marks the store closed. Existing subscriptions stop receiving.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.Cancel()
		}
	}
	s.subs = make(map[string][]*memSub)
	return nil
}

type memSub struct {
	snapshots chan []Document
	errs      chan error
	done      chan struct{}
	once      sync.Once
}

func (sub *memSub) Snapshots() <-chan []Document { return sub.snapshots }

func (sub *memSub) Err() <-chan error { return sub.errs }

func (sub *memSub) Cancel() {
	sub.once.Do(func() { close(sub.done) })
}

func (sub *memSub) push(docs []Document) {
	select {
	case <-sub.done:
		return
	default:
	}
	select {
	case sub.snapshots <- docs:
	default:
	}
}

func (sub *memSub) fail(err error) {
	select {
	case <-sub.done:
		return
	default:
	}
	select {
	case sub.errs <- err:
	default:
	}
}
