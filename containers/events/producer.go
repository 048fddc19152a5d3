// Copyright 2021-2022, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package events

import (
	"context"
	"errors"
	"sync"
)

const defaultQueueLimit = 1 << 16

var (
	ErrSubscriptionOverflow = errors.New("subscription fell too far behind and was dropped")
	ErrSubscriptionClosed   = errors.New("subscription closed")
)

// Producer manages event subscriptions and delivers every broadcast event to
// every subscription, in broadcast order.
type Producer[T any] struct {
	sync.Mutex
	subs       map[subId]*Subscription[T]
	nextId     subId
	queueLimit int // maximum number of undelivered events per subscription.
	closed     bool
}

type ProducerOpt[T any] func(*Producer[T])

// WithQueueLimit bounds how many undelivered events a subscription may hold
// before it is dropped.
func WithQueueLimit[T any](limit int) ProducerOpt[T] {
	return func(ep *Producer[T]) {
		ep.queueLimit = limit
	}
}

func NewProducer[T any](opts ...ProducerOpt[T]) *Producer[T] {
	producer := &Producer[T]{
		subs:       make(map[subId]*Subscription[T]),
		queueLimit: defaultQueueLimit,
	}
	for _, opt := range opts {
		opt(producer)
	}
	return producer
}

// Subscribe returns a handle to a new event subscription. It only observes
// events broadcast after this call.
func (ep *Producer[T]) Subscribe() *Subscription[T] {
	ep.Lock()
	defer ep.Unlock()
	sub := &Subscription[T]{
		id:       ep.nextId,
		producer: ep,
		notify:   make(chan struct{}, 1),
		limit:    ep.queueLimit,
	}
	ep.nextId++
	if ep.closed {
		sub.closed = true
		return sub
	}
	ep.subs[sub.id] = sub
	return sub
}

// Broadcast queues events on all active subscriptions without blocking on slow consumers.
func (ep *Producer[T]) Broadcast(events ...T) {
	if len(events) == 0 {
		return
	}
	ep.Lock()
	defer ep.Unlock()
	for id, sub := range ep.subs {
		if !sub.push(events) {
			delete(ep.subs, id)
		}
	}
}

// Close ends all subscriptions once their queued events are drained.
func (ep *Producer[T]) Close() {
	ep.Lock()
	defer ep.Unlock()
	ep.closed = true
	for id, sub := range ep.subs {
		sub.close(nil)
		delete(ep.subs, id)
	}
}

// NumSubscriptions returns the number of active subscriptions.
func (ep *Producer[T]) NumSubscriptions() int {
	ep.Lock()
	defer ep.Unlock()
	return len(ep.subs)
}

func (ep *Producer[T]) remove(id subId) {
	ep.Lock()
	defer ep.Unlock()
	delete(ep.subs, id)
}

type subId uint64

// Subscription defines a generic handle to a subscription of
// events from a producer.
type Subscription[T any] struct {
	id       subId
	producer *Producer[T]
	mu       sync.Mutex
	queue    []T
	limit    int
	notify   chan struct{}
	closed   bool
	err      error
}

func (es *Subscription[T]) push(events []T) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		return false
	}
	if len(es.queue)+len(events) > es.limit {
		es.queue = nil
		es.closed = true
		es.err = ErrSubscriptionOverflow
		es.wake()
		return false
	}
	es.queue = append(es.queue, events...)
	es.wake()
	return true
}

func (es *Subscription[T]) close(err error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.closed = true
	if es.err == nil {
		es.err = err
	}
	es.wake()
}

func (es *Subscription[T]) wake() {
	select {
	case es.notify <- struct{}{}:
	default:
	}
}

// Next waits for the next event or context cancelation, returning the event or an error.
func (es *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zeroVal T
	for {
		es.mu.Lock()
		if len(es.queue) > 0 {
			ev := es.queue[0]
			es.queue[0] = zeroVal
			es.queue = es.queue[1:]
			es.mu.Unlock()
			return ev, nil
		}
		if es.closed {
			err := es.err
			es.mu.Unlock()
			if err == nil {
				err = ErrSubscriptionClosed
			}
			return zeroVal, err
		}
		es.mu.Unlock()
		select {
		case <-es.notify:
		case <-ctx.Done():
			return zeroVal, ctx.Err()
		}
	}
}

// Pending returns the number of queued events not yet returned by Next.
func (es *Subscription[T]) Pending() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.queue)
}

// Unsubscribe stops delivery to this subscription.
func (es *Subscription[T]) Unsubscribe() {
	es.producer.remove(es.id)
	es.close(nil)
}
