// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SubscriberQueueSize = 32
	AsyncQueueSize      = 256
	AsyncWorkers        = 2
)

// EventTypeAll subscribes to every published event type
const EventTypeAll EventType = "*"

type EventType string

type SubscriberID uint64

type HandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, data any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// subscriber is a buffered channel. Delivery never blocks the publisher:
// when the buffer is full the event is dropped for that subscriber.
type subscriber struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func (s *subscriber) deliver(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// EventBus fans certificate lifecycle events out to in-process subscribers
type EventBus struct {
	logger      *slog.Logger
	metrics     *eventMetrics
	subscribers map[EventType]map[SubscriberID]*subscriber
	lastID      SubscriberID
	mu          sync.RWMutex
	queue       chan Event
	workerWg    sync.WaitGroup
	handlerWg   sync.WaitGroup
	stopOnce    sync.Once
	stopMu      sync.RWMutex
	stopped     bool
}

// NewEventBus creates an EventBus and starts its async workers. Stop must be
// called to release them.
func NewEventBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
) *EventBus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e := &EventBus{
		logger:      logger.With("component", "event"),
		subscribers: make(map[EventType]map[SubscriberID]*subscriber),
		queue:       make(chan Event, AsyncQueueSize),
	}
	if promRegistry != nil {
		e.initMetrics(promRegistry)
	}
	for range AsyncWorkers {
		e.workerWg.Add(1)
		go e.worker()
	}
	return e
}

func (e *EventBus) worker() {
	defer e.workerWg.Done()
	for evt := range e.queue {
		e.Publish(evt)
	}
}

// Subscribe returns a channel receiving events of the given type. Use
// EventTypeAll to receive every event.
func (e *EventBus) Subscribe(eventType EventType) (SubscriberID, <-chan Event) {
	sub := &subscriber{ch: make(chan Event, SubscriberQueueSize)}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastID++
	id := e.lastID
	e.stopMu.RLock()
	stopped := e.stopped
	e.stopMu.RUnlock()
	if stopped {
		sub.close()
		return id, sub.ch
	}
	subs, ok := e.subscribers[eventType]
	if !ok {
		subs = make(map[SubscriberID]*subscriber)
		e.subscribers[eventType] = subs
	}
	subs[id] = sub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return id, sub.ch
}

// SubscribeFunc calls handler for each event of the given type from a
// dedicated goroutine, which exits on Unsubscribe or Stop
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handler HandlerFunc,
) SubscriberID {
	id, ch := e.Subscribe(eventType)
	e.handlerWg.Add(1)
	go func() {
		defer e.handlerWg.Done()
		for evt := range ch {
			e.runHandler(handler, evt)
		}
	}()
	return id
}

func (e *EventBus) runHandler(handler HandlerFunc, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(
				"event handler panic",
				"type", evt.Type,
				"panic", r,
			)
			if e.metrics != nil {
				e.metrics.deliveryErrors.WithLabelValues(string(evt.Type), "panic").Inc()
			}
		}
	}()
	handler(evt)
}

// Unsubscribe removes a subscriber and closes its channel
func (e *EventBus) Unsubscribe(eventType EventType, id SubscriberID) {
	e.mu.Lock()
	subs := e.subscribers[eventType]
	sub, ok := subs[id]
	if ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(e.subscribers, eventType)
		}
		if e.metrics != nil {
			e.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
		}
	}
	e.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish delivers an event synchronously to the subscribers of its type
// and to wildcard subscribers
func (e *EventBus) Publish(evt Event) {
	e.mu.RLock()
	targets := make(
		[]*subscriber,
		0,
		len(e.subscribers[evt.Type])+len(e.subscribers[EventTypeAll]),
	)
	for _, sub := range e.subscribers[evt.Type] {
		targets = append(targets, sub)
	}
	if evt.Type != EventTypeAll {
		for _, sub := range e.subscribers[EventTypeAll] {
			targets = append(targets, sub)
		}
	}
	e.mu.RUnlock()
	for _, sub := range targets {
		if !sub.deliver(evt) {
			e.logger.Warn(
				"subscriber queue full, dropping event",
				"type", evt.Type,
			)
			if e.metrics != nil {
				e.metrics.deliveryErrors.WithLabelValues(string(evt.Type), "dropped").Inc()
			}
		}
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(evt.Type)).Inc()
	}
}

// PublishAsync queues an event for delivery by the worker pool. It returns
// false when the bus is stopped or the queue is full.
func (e *EventBus) PublishAsync(evt Event) bool {
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped {
		return false
	}
	select {
	case e.queue <- evt:
		return true
	default:
		e.logger.Warn("async event queue full, dropping event", "type", evt.Type)
		if e.metrics != nil {
			e.metrics.deliveryErrors.WithLabelValues(string(evt.Type), "async-dropped").Inc()
		}
		return false
	}
}

// Stop delivers any queued async events, closes every subscriber and waits
// for SubscribeFunc handlers to return. A stopped bus cannot be restarted.
func (e *EventBus) Stop() {
	e.stopOnce.Do(func() {
		e.stopMu.Lock()
		e.stopped = true
		close(e.queue)
		e.stopMu.Unlock()
		e.workerWg.Wait()

		e.mu.Lock()
		subs := e.subscribers
		e.subscribers = make(map[EventType]map[SubscriberID]*subscriber)
		e.mu.Unlock()
		for _, typeSubs := range subs {
			for _, sub := range typeSubs {
				sub.close()
			}
		}
		if e.metrics != nil {
			e.metrics.subscribers.Reset()
		}
		e.handlerWg.Wait()
	})
}
