package broker

import (
	"context"
	"hash/fnv"
	"sync"
)

// MemoryBroker is an in-process Broker. Topics are partitioned by record
// key; each partition retains its log, and consumer groups read it from
// the beginning at their own pace. Within a group, one delivery per
// partition is in flight at a time, so per-key ordering holds even with
// several subscribers.
type MemoryBroker struct {
	cfg Config

	mu      sync.RWMutex
	topics  map[string]*memTopic
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewMemoryBroker creates an in-memory broker.
func NewMemoryBroker(cfg Config) *MemoryBroker {
	return &MemoryBroker{
		cfg:     cfg.defaults(),
		topics:  make(map[string]*memTopic),
		closeCh: make(chan struct{}),
	}
}

type memTopic struct {
	partitions []*memPartition
	groups     map[string]*memGroup
}

type memPartition struct {
	mu   sync.Mutex
	cond *sync.Cond
	log  []Record
}

func newMemPartition() *memPartition {
	p := &memPartition{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// memGroup is one consumer group on one topic. Deliveries from every
// partition funnel into a shared channel; subscribers compete for them.
type memGroup struct {
	deliveries chan Delivery
	cursors    []int // per partition, guarded by the partition mutex
}

func (b *MemoryBroker) topic(name string) *memTopic {
	if t, ok := b.topics[name]; ok {
		return t
	}
	t := &memTopic{
		partitions: make([]*memPartition, b.cfg.Partitions),
		groups:     make(map[string]*memGroup),
	}
	for i := range t.partitions {
		t.partitions[i] = newMemPartition()
	}
	b.topics[name] = t
	return t
}

func partitionFor(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Send implements Sender. Appends are immediately visible to every group
// on the topic.
func (b *MemoryBroker) Send(ctx context.Context, records ...Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.append(records)
	return nil
}

// SendTransactional implements Transactor. The whole batch is appended
// under one critical section, so consumers observe all records or none.
func (b *MemoryBroker) SendTransactional(ctx context.Context, records ...Record) error {
	if err := ctx.Err(); err != nil {
		return ErrTxnAborted
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.append(records)
	return nil
}

// append assumes b.mu is held.
func (b *MemoryBroker) append(records []Record) {
	for _, rec := range records {
		t := b.topic(rec.Topic)
		p := t.partitions[partitionFor(rec.Key, len(t.partitions))]
		p.mu.Lock()
		p.log = append(p.log, rec)
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// Receive implements Receiver. The first subscription of a group starts
// its pump goroutines; later subscribers of the same group share the
// delivery stream. The returned channel closes when ctx is canceled or
// the broker closes.
func (b *MemoryBroker) Receive(ctx context.Context, topic, group string) (<-chan Delivery, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	t := b.topic(topic)
	g, ok := t.groups[group]
	if !ok {
		g = &memGroup{
			deliveries: make(chan Delivery, b.cfg.BufferSize),
			cursors:    make([]int, len(t.partitions)),
		}
		t.groups[group] = g
		for i, p := range t.partitions {
			b.wg.Add(1)
			go b.pump(p, g, i)
		}
	}
	b.mu.Unlock()

	out := make(chan Delivery, b.cfg.BufferSize)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.closeCh:
				return
			case d := <-g.deliveries:
				select {
				case out <- d:
				case <-ctx.Done():
					// Subscriber left with a delivery in hand; requeue it
					// so another group member picks it up.
					d.Nack()
					return
				case <-b.closeCh:
					return
				}
			}
		}
	}()
	return out, nil
}

// pump feeds one partition's log to a group, one in-flight delivery at a
// time. A nack redelivers the same record before the cursor advances.
func (b *MemoryBroker) pump(p *memPartition, g *memGroup, idx int) {
	defer b.wg.Done()
	for {
		rec, ok := b.next(p, g, idx)
		if !ok {
			return
		}
		for {
			result := make(chan bool, 1)
			var once sync.Once
			d := Delivery{
				Record: rec,
				Ack:    func() { once.Do(func() { result <- true }) },
				Nack:   func() { once.Do(func() { result <- false }) },
			}
			select {
			case g.deliveries <- d:
			case <-b.closeCh:
				return
			}
			var acked bool
			select {
			case acked = <-result:
			case <-b.closeCh:
				return
			}
			if acked {
				break
			}
		}
	}
}

// next blocks until the group's cursor for the partition has a record, or
// the broker closes.
func (b *MemoryBroker) next(p *memPartition, g *memGroup, idx int) (Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for g.cursors[idx] >= len(p.log) {
		select {
		case <-b.closeCh:
			return Record{}, false
		default:
		}
		p.cond.Wait()
	}
	rec := p.log[g.cursors[idx]]
	g.cursors[idx]++
	return rec, true
}

// Close implements Broker. Pending unacked deliveries are dropped.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	// Wake pumps parked on empty partitions so they observe the close.
	for _, t := range b.topics {
		for _, p := range t.partitions {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}
