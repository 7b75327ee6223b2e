// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events is an in-process publish/subscribe bus.
//
// The assistant publishes TopicDataUpdated after a confirmed record reaches
// the backend; views that show dashboard data subscribe to refresh. The bus
// is constructed once and handed to both sides.
package events

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

// Topic names a class of event.
type Topic string

// TopicDataUpdated fires after a record was written to a dashboard module.
const TopicDataUpdated Topic = "ai-data-updated"

// Event is one published message.
type Event struct {
	Topic   Topic
	Payload any
	At      time.Time
}

// DataUpdated is the payload of TopicDataUpdated.
type DataUpdated struct {
	DataType model.DataType
	Message  string
}

// Handler receives events. Handlers run on the publisher's goroutine and
// must not block.
type Handler func(Event)

// Publisher is the sending half of the bus.
type Publisher interface {
	Publish(topic Topic, payload any)
}

// Bus fans events out to subscribers. The zero value is not usable; call
// NewBus.
type Bus struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[Topic]map[uint64]Handler
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[Topic]map[uint64]Handler),
		logger: logger.Named("events"),
	}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers payload to every current subscriber of topic, in
// subscription order. A panicking handler is logged and skipped.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs[topic]))
	for id := range b.subs[topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[topic][id])
	}
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload, At: time.Now()}
	for _, h := range handlers {
		b.dispatch(h, ev)
	}
	b.logger.Debug("published", zap.String("topic", string(topic)), zap.Int("subscribers", len(handlers)))
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", string(ev.Topic)),
				zap.Any("panic", r),
			)
		}
	}()
	h(ev)
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
