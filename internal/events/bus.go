// Package events fans finalized pipeline output out to in-process consumers.
// The engine publishes; the API layer and the outbound publisher subscribe.
// Handlers run synchronously on the publishing goroutine, so they must be
// quick or hand off to their own worker.
package events

import (
	"sync"

	"github.com/retailsense/venueflow/internal/store"
	"github.com/retailsense/venueflow/internal/track"
)

// Bus is a typed publish/subscribe fan-out. The zero value is ready to use.
type Bus struct {
	mu        sync.RWMutex
	batchSubs []func(track.Batch)
	visitSubs []func(store.Visit)
	queueSubs []func(store.QueueRecord)
	alertSubs []func(store.LedgerEntry)
}

// SubscribeBatch registers a handler for live track batches.
func (b *Bus) SubscribeBatch(fn func(track.Batch)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batchSubs = append(b.batchSubs, fn)
}

// SubscribeVisit registers a handler for finalized zone visits.
func (b *Bus) SubscribeVisit(fn func(store.Visit)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.visitSubs = append(b.visitSubs, fn)
}

// SubscribeQueue registers a handler for finalized queue sessions.
func (b *Bus) SubscribeQueue(fn func(store.QueueRecord)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueSubs = append(b.queueSubs, fn)
}

// SubscribeAlert registers a handler for triggered alerts.
func (b *Bus) SubscribeAlert(fn func(store.LedgerEntry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alertSubs = append(b.alertSubs, fn)
}

// PublishBatch delivers a live track batch to every batch subscriber.
func (b *Bus) PublishBatch(batch track.Batch) {
	b.mu.RLock()
	subs := b.batchSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(batch)
	}
}

// PublishVisit delivers a finalized visit to every visit subscriber.
func (b *Bus) PublishVisit(v store.Visit) {
	b.mu.RLock()
	subs := b.visitSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(v)
	}
}

// PublishQueue delivers a finalized queue session to every queue subscriber.
func (b *Bus) PublishQueue(q store.QueueRecord) {
	b.mu.RLock()
	subs := b.queueSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(q)
	}
}

// PublishAlert delivers a triggered alert to every alert subscriber.
func (b *Bus) PublishAlert(e store.LedgerEntry) {
	b.mu.RLock()
	subs := b.alertSubs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}
