package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/protomake/pulse/internal/telemetry"
)

// Listener is one attached output sink. Send delivers a single event; Close
// tears the sink down. The registry only ever holds a listener to deliver to
// it, it does not extend the listener's lifetime beyond unsubscribe.
type Listener struct {
	Send  func(Event) error
	Close func()
}

// Registry is the process-wide channel table backing the streaming
// transport: ChannelKey -> set of listeners. It is the single piece of
// shared mutable state in the notification fabric, guarded by one mutex
// since every operation is short and O(listeners).
//
// The registry has no backlog or replay. Publishing to a channel with no
// listeners drops the event; disconnected clients reconcile via the job
// status endpoint.
type Registry struct {
	mu       sync.Mutex
	channels map[ChannelKey]map[int]*Listener
	nextID   int
}

// NewRegistry creates an empty registry. One registry is constructed at
// service startup and shared by reference with every handler.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[ChannelKey]map[int]*Listener),
	}
}

// Subscribe registers a listener under key and returns the capability that
// removes exactly this listener and closes its sink. The returned func is
// safe to call more than once; Close runs at most once, after the listener
// can no longer receive a publish, and the empty listener set is
// garbage-collected on removal.
func (r *Registry) Subscribe(key ChannelKey, listener *Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[key]
	if !ok {
		set = make(map[int]*Listener)
		r.channels[key] = set
	}

	id := r.nextID
	r.nextID++
	set[id] = listener

	telemetry.GetMetrics().ActiveListeners.Add(context.Background(), 1)
	log.Debug().Str("channel", string(key)).Int("listeners", len(set)).Msg("Listener subscribed")

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if set, ok := r.channels[key]; ok {
				if _, ok := set[id]; ok {
					delete(set, id)
					telemetry.GetMetrics().ActiveListeners.Add(context.Background(), -1)
				}
				if len(set) == 0 {
					delete(r.channels, key)
				}
			}
			r.mu.Unlock()

			// Outside the lock: the sink may do its own synchronization.
			if listener.Close != nil {
				listener.Close()
			}
			log.Debug().Str("channel", string(key)).Msg("Listener unsubscribed")
		})
	}
}

// Publish delivers event to every listener currently attached to key.
// With no listeners it is a no-op; the event is dropped, not queued. A
// failing sink is logged and skipped so one half-closed connection never
// starves the rest. Deliveries happen under the registry lock, which is
// what gives per-listener ordering across consecutive publishes.
func (r *Registry) Publish(key ChannelKey, event Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[key]
	if !ok || len(set) == 0 {
		telemetry.GetMetrics().EventsDroppedTotal.Add(context.Background(), 1)
		log.Warn().Str("channel", string(key)).Str("event", event.Event).Msg("No listeners for channel, dropping event")
		return 0
	}

	delivered := 0
	for _, listener := range set {
		if err := listener.Send(event); err != nil {
			// Delivery failures are isolated per listener; the transport
			// owns teardown of its own sink.
			log.Warn().Err(err).Str("channel", string(key)).Str("event", event.Event).Msg("Failed to deliver event to listener")
			continue
		}
		delivered++
	}

	telemetry.GetMetrics().EventsPublishedTotal.Add(context.Background(), int64(delivered))
	log.Debug().Str("channel", string(key)).Str("event", event.Event).Int("delivered", delivered).Msg("Published event")
	return delivered
}

// Listeners reports the number of listeners currently attached to key.
func (r *Registry) Listeners(key ChannelKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[key])
}
