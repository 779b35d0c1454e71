package events

const (
	DefaultQueueSize   = 100
	DefaultMaxDispatch = 32
)

// Stats reports bus activity.
type Stats struct {
	Published  map[string]uint64 `json:"published"`
	Delivered  uint64            `json:"delivered"`
	Dropped    uint64            `json:"dropped"`
	Evicted    uint64            `json:"evicted"`
	QueueDepth int               `json:"queue_depth"`
}

// Bus is a bounded FIFO with a fixed dispatch table. It is owned by the
// control thread and is not safe for concurrent use.
type Bus struct {
	table       [kindCount][]Subscriber
	queue       []Event
	head        int
	size        int
	maxDispatch int

	published [kindCount]uint64
	delivered uint64
	dropped   uint64
	evicted   uint64
}

func NewBus(queueSize, maxDispatch int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if maxDispatch <= 0 {
		maxDispatch = DefaultMaxDispatch
	}
	return &Bus{
		queue:       make([]Event, queueSize),
		maxDispatch: maxDispatch,
	}
}

// Subscribe registers s for kinds, or for every kind when none are given.
func (b *Bus) Subscribe(s Subscriber, kinds ...Kind) {
	if len(kinds) == 0 {
		kinds = Kinds()
	}
	for _, k := range kinds {
		if k < kindCount {
			b.table[k] = append(b.table[k], s)
		}
	}
}

// Publish enqueues e. When the queue is full a critical event evicts the
// oldest queued event; anything else is dropped and Publish returns false.
func (b *Bus) Publish(e Event) bool {
	if e.Kind >= kindCount {
		return false
	}

	if b.size == len(b.queue) {
		if e.Kind.Priority() < Critical {
			b.dropped++
			return false
		}
		b.head = (b.head + 1) % len(b.queue)
		b.size--
		b.evicted++
	}

	b.queue[(b.head+b.size)%len(b.queue)] = e
	b.size++
	b.published[e.Kind]++
	return true
}

// Dispatch delivers up to the configured maximum of queued events in
// publish order and returns how many were delivered.
func (b *Bus) Dispatch() int {
	n := 0
	for b.size > 0 && n < b.maxDispatch {
		e := b.queue[b.head]
		b.queue[b.head] = Event{}
		b.head = (b.head + 1) % len(b.queue)
		b.size--

		for _, s := range b.table[e.Kind] {
			s.HandleEvent(e)
		}
		b.delivered++
		n++
	}
	return n
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int { return b.size }

func (b *Bus) Stats() Stats {
	published := make(map[string]uint64, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		if b.published[k] > 0 {
			published[k.String()] = b.published[k]
		}
	}
	return Stats{
		Published:  published,
		Delivered:  b.delivered,
		Dropped:    b.dropped,
		Evicted:    b.evicted,
		QueueDepth: b.size,
	}
}
