package events

import "sync"

// AllProjects subscribes to the events of every project.
const AllProjects int64 = 0

const defaultSubscriberBuffer = 64

// Publisher fans committed lifecycle events out to subscribers.
type Publisher interface {
	// Publish delivers event to the subscribers of its project and to
	// AllProjects subscribers.
	Publish(event Event)
	// Subscribe opens a subscription on one project, or on AllProjects.
	Subscribe(projectID int64) <-chan Event
	// Unsubscribe closes a channel returned by Subscribe.
	Unsubscribe(projectID int64, ch <-chan Event)
	// Close closes every open subscription.
	Close()
}

// subscriberSet maps the receive side handed to a subscriber to the send side
// kept by the publisher.
type subscriberSet map[<-chan Event]chan Event

// MemoryPublisher keeps subscriptions in process. A subscriber whose buffer
// is full misses the event rather than stalling the request that committed it.
type MemoryPublisher struct {
	mu     sync.RWMutex
	subs   map[int64]subscriberSet
	buffer int
	closed bool
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets how many events a subscriber may fall behind by.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.buffer = size
	}
}

// NewMemoryPublisher creates an empty publisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		subs:   make(map[int64]subscriberSet),
		buffer: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	p.subs[event.ProjectID].deliver(event)
	if event.ProjectID != AllProjects {
		p.subs[AllProjects].deliver(event)
	}
}

func (s subscriberSet) deliver(event Event) {
	for _, ch := range s {
		select {
		case ch <- event:
		default:
		}
	}
}

func (p *MemoryPublisher) Subscribe(projectID int64) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return closedSubscription()
	}
	ch := make(chan Event, p.buffer)
	set, ok := p.subs[projectID]
	if !ok {
		set = make(subscriberSet)
		p.subs[projectID] = set
	}
	set[ch] = ch
	return ch
}

// Unsubscribe is a no-op for a channel that is not subscribed to projectID.
func (p *MemoryPublisher) Unsubscribe(projectID int64, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.subs[projectID]
	send, ok := set[ch]
	if !ok {
		return
	}
	close(send)
	delete(set, ch)
	if len(set) == 0 {
		delete(p.subs, projectID)
	}
}

// Close closes every subscription. Later subscriptions are closed on arrival.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, set := range p.subs {
		for _, send := range set {
			close(send)
		}
	}
	p.subs = nil
}

// SubscriberCount returns the number of open subscriptions on projectID.
func (p *MemoryPublisher) SubscriberCount(projectID int64) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[projectID])
}

// NopPublisher drops every event. The engine uses it until a real publisher
// is configured.
type NopPublisher struct{}

// NewNopPublisher creates a NopPublisher.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (NopPublisher) Publish(Event) {}

func (NopPublisher) Subscribe(int64) <-chan Event {
	return closedSubscription()
}

func (NopPublisher) Unsubscribe(int64, <-chan Event) {}

func (NopPublisher) Close() {}

func closedSubscription() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}
