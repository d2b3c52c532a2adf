// Package eventbus provides explicit publish-subscribe signaling between
// the engine coordinators and presentation surfaces. Dependencies are
// visible in types: publishers emit typed events, surfaces subscribe per
// event type.
package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType names one of the engine's signal kinds.
type EventType string

const (
	// EventTypeDeviceUpdated fires when a controller publishes a new
	// device snapshot (power, brightness, gradient, transition duration).
	EventTypeDeviceUpdated EventType = "device_updated"
	// EventTypePresetSynced fires when background sync attaches a remote
	// id to a local preset record.
	EventTypePresetSynced EventType = "preset_synced"
	// EventTypeTransitionFinished fires when a transition completes or is
	// cancelled.
	EventTypeTransitionFinished EventType = "transition_finished"
)

// Default worker-pool sizing. The pool bounds handler concurrency so a
// slow surface cannot starve the controllers publishing into the bus.
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event is one signal routed through the bus. Events carry the device id
// they concern; type-specific details ride in Data.
type Event struct {
	Type     EventType
	DeviceID string
	Data     map[string]interface{}
}

// Handler consumes one event.
type Handler func(Event)

// delivery pairs an event with one subscribed handler for the pool.
type delivery struct {
	event   Event
	handler Handler
}

// Bus routes events to subscribed handlers through a bounded worker pool.
// Publishing never blocks: when the queue is full or the bus is shutting
// down the event is dropped, since every event here describes current
// state that the next publish resends anyway.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	queue chan delivery
	wg    sync.WaitGroup

	// closing signals publishers to stop; queueMu keeps in-flight sends
	// and the queue close mutually exclusive so Publish can never send on
	// a closed channel.
	closing   chan struct{}
	queueMu   sync.RWMutex
	closeOnce sync.Once
}

// New creates a bus with default pool sizing.
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a bus with a custom worker count and queue size.
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan delivery, queueSize),
		closing:  make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker drains deliveries until the queue closes. A panicking handler is
// contained so it cannot take the pool down with it.
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for d := range b.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(d.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			d.handler(d.event)
		}()
	}
}

// Subscribe registers a handler for an event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish fans an event out to its subscribed handlers, non-blocking.
// A full queue or a closing bus drops the event.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	b.queueMu.RLock()
	defer b.queueMu.RUnlock()

	// Checked while holding queueMu: the queue cannot close until this
	// publish returns, so an open closing channel means a safe send.
	select {
	case <-b.closing:
		log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
		return
	default:
	}

	for _, handler := range handlers {
		select {
		case b.queue <- delivery{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close drains the pool and waits for workers up to ctx's deadline.
// Publishers are signalled first; the queue closes only once no send can
// still be in flight.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)

		// Wait out in-flight Publish calls before closing the queue.
		b.queueMu.Lock()
		close(b.queue)
		b.queueMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Clear removes all handlers.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]Handler)
}

// PublishDeviceUpdated signals that a device snapshot changed.
func (b *Bus) PublishDeviceUpdated(deviceID string) {
	b.Publish(Event{Type: EventTypeDeviceUpdated, DeviceID: deviceID})
}

// PublishPresetSynced signals that a local preset gained a remote id.
func (b *Bus) PublishPresetSynced(deviceID, localID string, remoteID int) {
	b.Publish(Event{
		Type:     EventTypePresetSynced,
		DeviceID: deviceID,
		Data: map[string]interface{}{
			"local_id":  localID,
			"remote_id": remoteID,
		},
	})
}

// PublishTransitionFinished signals a completed or cancelled transition.
func (b *Bus) PublishTransitionFinished(deviceID, outcome string) {
	b.Publish(Event{
		Type:     EventTypeTransitionFinished,
		DeviceID: deviceID,
		Data: map[string]interface{}{
			"outcome": outcome,
		},
	})
}
