package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// collectingListener records every event it receives and how often its
// sink was closed.
type collectingListener struct {
	mu     sync.Mutex
	events []Event
	closes int
}

func (c *collectingListener) listener() *Listener {
	return &Listener{
		Send: func(event Event) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.events = append(c.events, event)
			return nil
		},
		Close: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.closes++
		},
	}
}

func (c *collectingListener) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collectingListener) closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func TestRegistryPublishWithoutListeners(t *testing.T) {
	r := NewRegistry()

	// Must neither block nor panic, the event is simply dropped.
	delivered := r.Publish(Key("P1", ""), Event{Event: EventInitialCompleted, ProjectID: "P1", ReportID: "R1"})
	require.Zero(t, delivered)
}

func TestRegistrySubscribePublishUnsubscribe(t *testing.T) {
	r := NewRegistry()
	key := Key("P1", "")

	c := &collectingListener{}
	unsubscribe := r.Subscribe(key, c.listener())
	require.Equal(t, 1, r.Listeners(key))

	event := Event{Event: EventInitialCompleted, ProjectID: "P1", ReportID: "R1"}
	require.Equal(t, 1, r.Publish(key, event))
	require.Equal(t, []Event{event}, c.received())

	unsubscribe()
	require.Zero(t, r.Listeners(key))
	require.Equal(t, 1, c.closed())

	require.Zero(t, r.Publish(key, event))
	require.Len(t, c.received(), 1)
}

func TestRegistryUnsubscribeIsIdempotent(t *testing.T) {
	r := NewRegistry()
	key := Key("P1", "U1")

	a := &collectingListener{}
	b := &collectingListener{}
	unsubA := r.Subscribe(key, a.listener())
	r.Subscribe(key, b.listener())

	unsubA()
	unsubA()
	require.Equal(t, 1, r.Listeners(key))

	// The sink closes exactly once no matter how often the capability runs;
	// the listener still attached stays open.
	require.Equal(t, 1, a.closed())
	require.Zero(t, b.closed())
}

func TestRegistryFanoutToMultipleListeners(t *testing.T) {
	r := NewRegistry()
	key := Key("P1", "")

	a := &collectingListener{}
	b := &collectingListener{}
	unsubA := r.Subscribe(key, a.listener())
	r.Subscribe(key, b.listener())

	event := Event{Event: EventReportCompleted, ProjectID: "P1", ReportID: "R1"}
	require.Equal(t, 2, r.Publish(key, event))
	require.Equal(t, []Event{event}, a.received())
	require.Equal(t, []Event{event}, b.received())

	// One client disconnects; the second publish reaches only the survivor.
	unsubA()
	second := Event{Event: EventReportCompleted, ProjectID: "P1", ReportID: "R2"}
	require.Equal(t, 1, r.Publish(key, second))
	require.Len(t, a.received(), 1)
	require.Equal(t, []Event{event, second}, b.received())
}

func TestRegistryFailingListenerDoesNotStopDelivery(t *testing.T) {
	r := NewRegistry()
	key := Key("P1", "")

	broken := &Listener{
		Send:  func(Event) error { return errors.New("write: broken pipe") },
		Close: func() {},
	}
	healthy := &collectingListener{}
	r.Subscribe(key, broken)
	r.Subscribe(key, healthy.listener())

	event := Event{Event: EventFirmwareCompleted, ProjectID: "P1", ReportID: "R1"}
	require.Equal(t, 1, r.Publish(key, event))
	require.Equal(t, []Event{event}, healthy.received())
}

func TestRegistryChannelIsolation(t *testing.T) {
	r := NewRegistry()

	p1 := &collectingListener{}
	p2 := &collectingListener{}
	r.Subscribe(Key("P1", ""), p1.listener())
	r.Subscribe(Key("P2", ""), p2.listener())

	event := Event{Event: EventInitialCompleted, ProjectID: "P1", ReportID: "R1"}
	require.Equal(t, 1, r.Publish(Key("P1", ""), event))
	require.Equal(t, []Event{event}, p1.received())
	require.Empty(t, p2.received())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	key := Key("P1", "")

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				c := &collectingListener{}
				unsubscribe := r.Subscribe(key, c.listener())
				r.Publish(key, Event{Event: EventInitialCompleted, ProjectID: "P1", ReportID: "R1"})
				unsubscribe()
			}
		}()
	}
	wg.Wait()

	require.Zero(t, r.Listeners(key))
}
