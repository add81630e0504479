package catalogsync

import "sync"

// Progress is one event on the sync progress stream.
type Progress struct {
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
	Synced  int    `json:"synced"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Broadcaster fans progress events out to subscribers. Publish never blocks;
// a subscriber whose buffer is full misses events.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Progress
	next int
	last Progress
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Progress)}
}

// Subscribe registers a listener. The returned cancel func closes the
// channel and must be called once the listener is done.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Progress, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Progress, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = p
	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Last returns the most recent event.
func (b *Broadcaster) Last() Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
