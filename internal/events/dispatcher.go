// Package events delivers engine events to in-process subscribers. Engine
// operations return their events as data and hand them to the Dispatcher
// after the transaction that produced them commits.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"tradegate/internal/domain"
)

// Publisher accepts committed events.
type Publisher interface {
	Publish(events ...domain.Event)
}

var _ Publisher = (*Dispatcher)(nil)

type subscriber struct {
	ch    chan domain.Event
	types map[domain.EventType]bool // nil = all
}

// Dispatcher fans events out to subscribers and keeps a short history so a
// new subscriber can start with a snapshot of recent activity.
type Dispatcher struct {
	log *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]*subscriber

	histMu  sync.RWMutex
	history []domain.Event // ring buffer
	next    int
	full    bool
	seq     uint64

	dropped atomic.Uint64
}

// NewDispatcher creates a Dispatcher remembering the last historySize events.
func NewDispatcher(historySize int, log *slog.Logger) *Dispatcher {
	if historySize < 1 {
		historySize = 1
	}
	return &Dispatcher{
		log:     log.With("component", "events"),
		subs:    make(map[int]*subscriber),
		history: make([]domain.Event, historySize),
	}
}

// Subscribe returns a channel receiving events of the given types, or every
// event when types is empty. bufSize controls the channel buffer; slow
// consumers have events dropped.
func (d *Dispatcher) Subscribe(bufSize int, types ...domain.EventType) (int, <-chan domain.Event) {
	sub := &subscriber{ch: make(chan domain.Event, bufSize)}
	if len(types) > 0 {
		sub.types = make(map[domain.EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}
	d.subsMu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.subs[id] = sub
	d.subsMu.Unlock()
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (d *Dispatcher) Unsubscribe(id int) {
	d.subsMu.Lock()
	if sub, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(sub.ch)
	}
	d.subsMu.Unlock()
}

// Publish stamps events with the next sequence numbers, records them in the
// history and broadcasts them without blocking.
func (d *Dispatcher) Publish(events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	stamped := make([]domain.Event, len(events))
	d.histMu.Lock()
	for i, e := range events {
		d.seq++
		e.Seq = d.seq
		stamped[i] = e
		d.history[d.next] = e
		d.next = (d.next + 1) % len(d.history)
		if d.next == 0 {
			d.full = true
		}
	}
	d.histMu.Unlock()

	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for _, e := range stamped {
		for id, sub := range d.subs {
			if sub.types != nil && !sub.types[e.Type] {
				continue
			}
			select {
			case sub.ch <- e:
			default:
				d.dropped.Add(1)
				d.log.Warn("slow subscriber, event dropped", "sub_id", id, "type", e.Type, "order_id", e.OrderID)
			}
		}
	}
}

// Recent returns up to n of the latest events, oldest first.
func (d *Dispatcher) Recent(n int) []domain.Event {
	d.histMu.RLock()
	defer d.histMu.RUnlock()

	size := d.next
	if d.full {
		size = len(d.history)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]domain.Event, 0, n)
	start := (d.next - n + len(d.history)) % len(d.history)
	for i := 0; i < n; i++ {
		out = append(out, d.history[(start+i)%len(d.history)])
	}
	return out
}

// Dropped returns the number of deliveries skipped because a subscriber's
// buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
