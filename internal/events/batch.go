package events

// Batch collects events produced inside a transaction so they can be
// published once it commits. A Batch is not safe for concurrent use.
type Batch struct {
	events []Event
}

// Add queues an event.
func (b *Batch) Add(e Event) {
	b.events = append(b.events, e)
}

// Len returns the number of queued events.
func (b *Batch) Len() int {
	return len(b.events)
}

// Reset drops queued events. Call it when a transaction is retried or
// rolled back.
func (b *Batch) Reset() {
	b.events = b.events[:0]
}

// Events returns the queued events in order.
func (b *Batch) Events() []Event {
	return b.events
}

// Flush publishes queued events in order and empties the batch.
func (b *Batch) Flush(p Publisher) {
	if p != nil {
		for _, e := range b.events {
			p.Publish(e)
		}
	}
	b.Reset()
}
