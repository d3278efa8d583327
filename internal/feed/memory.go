package feed

import (
	"context"
	"sync"
)

const memoryQueueSize = 64

// MemoryFeed delivers events in-process. Each subscription gets its own
// goroutine so a publisher never runs subscriber callbacks on its own stack.
type MemoryFeed struct {
	mu   sync.RWMutex
	subs map[*memorySub]struct{}
}

type memorySub struct {
	*subscription
	queue chan Event
	done  chan struct{}
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[*memorySub]struct{})}
}

func (f *MemoryFeed) Subscribe(_ context.Context, table Table, filter Filter, fn func(Event)) (Handle, error) {
	sub := &memorySub{
		subscription: &subscription{table: table, filter: filter, fn: fn},
		queue:        make(chan Event, memoryQueueSize),
		done:         make(chan struct{}),
	}
	sub.release = func() {
		f.mu.Lock()
		delete(f.subs, sub)
		f.mu.Unlock()
		close(sub.done)
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go sub.loop()
	return sub, nil
}

func (s *memorySub) loop() {
	for {
		select {
		case ev := <-s.queue:
			s.deliver(ev)
		case <-s.done:
			return
		}
	}
}

// Publish enqueues ev for every matching subscriber. A full queue drops the
// oldest pending event.
func (f *MemoryFeed) Publish(_ context.Context, ev Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- ev:
			default:
			}
		}
	}
	return nil
}
