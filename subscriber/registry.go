package subscriber

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Consumer receives the events of a poll in feed order.
//
// StartConsumption is called once before the first event of a poll and
// EndConsumption once after the last, only for polls that deliver at least one
// event. A Consume error aborts the rest of the poll.
type Consumer interface {
	StartConsumption(ctx context.Context)
	Consume(ctx context.Context, contentType string, payload string) error
	EndConsumption(ctx context.Context, completedCleanly bool)
}

// ErrUncomparableConsumer is returned by Add for consumers whose type can't be
// compared with ==, e.g. a struct value holding a slice. Register a pointer instead.
var ErrUncomparableConsumer = errors.New("consumer type is not comparable")

// Registry is the set of subscribed consumers. Consumers are compared with
// ==, so pointers are compared by identity.
type Registry struct {
	mu        sync.RWMutex
	consumers []Consumer
}

// NewRegistry returns a registry holding the initial consumers. Consumers
// Add rejects are logged and left out.
func NewRegistry(initial ...Consumer) *Registry {
	r := &Registry{}
	for _, c := range initial {
		if err := r.Add(c); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Warn("Skipping consumer")
		}
	}
	return r
}

// Add subscribes a consumer. Adding nil or one that is already present is a
// no-op.
func (r *Registry) Add(c Consumer) error {
	if c == nil {
		return nil
	}
	if !reflect.TypeOf(c).Comparable() {
		return fmt.Errorf("%w: %T", ErrUncomparableConsumer, c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if lo.ContainsBy(r.consumers, func(other Consumer) bool { return same(other, c) }) {
		return nil
	}
	r.consumers = append(r.consumers, c)

	log.WithFields(log.Fields{
		"count": len(r.consumers),
	}).Debug("Added consumer")
	return nil
}

// Remove unsubscribes a consumer. A poll already in progress still finishes
// with it.
func (r *Registry) Remove(c Consumer) {
	if c == nil || !reflect.TypeOf(c).Comparable() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.consumers = lo.Reject(r.consumers, func(other Consumer, _ int) bool { return same(other, c) })
}

// same compares two consumers with ==. A comparable struct can still hold an
// uncomparable value in an interface field, == panics on those and they count
// as different.
func same(a, b Consumer) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}

// Clear removes every consumer
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consumers = nil
}

// Len returns the number of subscribed consumers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.consumers)
}

// Snapshot returns the current consumers in registration order. The returned
// slice is not affected by later membership changes.
func (r *Registry) Snapshot() []Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]Consumer, len(r.consumers))
	copy(snapshot, r.consumers)
	return snapshot
}
