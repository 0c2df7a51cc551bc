// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package bus

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"aegis.dev/aegis/internal/logging"
)

// MemoryBus is the in-process Bus implementation: one set of bounded,
// ordered-within-partition ring-channels per topic, fanned out to every
// registered consumer group. Delivery is at-least-once — a handler that
// returns an error is retried up to MaxRedeliveries times before the
// message is dead-lettered and counted.
type MemoryBus struct {
	partitions      int
	partitionDepth  int
	maxRedeliveries int
	logger          *logging.Logger

	mu     sync.Mutex
	topics map[string]*topicState
	closed bool

	DeadLettered atomic.Int64
}

type topicState struct {
	groups map[string]*groupState
}

type groupState struct {
	channels []chan Message
	offsets  []atomic.Uint64
	backlog  []atomic.Int64
	cancel   func()
}

// NewMemoryBus constructs a MemoryBus with the given partition count,
// per-partition channel depth, and redelivery bound.
func NewMemoryBus(partitions, partitionDepth, maxRedeliveries int, logger *logging.Logger) *MemoryBus {
	if partitions <= 0 {
		partitions = 1
	}
	if partitionDepth <= 0 {
		partitionDepth = 256
	}
	if logger == nil {
		logger = logging.Default().WithComponent("bus")
	}
	return &MemoryBus{
		partitions:      partitions,
		partitionDepth:  partitionDepth,
		maxRedeliveries: maxRedeliveries,
		logger:          logger,
		topics:          make(map[string]*topicState),
	}
}

func partitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % n
}

func (b *MemoryBus) topic(name string) *topicState {
	t, ok := b.topics[name]
	if !ok {
		t = &topicState{groups: make(map[string]*groupState)}
		b.topics[name] = t
	}
	return t
}

// Publish routes payload to a partition of topic chosen by hashing key,
// fanning it out to every registered consumer group. It blocks if any
// group's target partition channel is full, per the backpressure
// contract in §5.
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, payload any) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	t := b.topic(topic)
	partition := partitionFor(key, b.partitions)
	groups := make([]*groupState, 0, len(t.groups))
	for _, g := range t.groups {
		groups = append(groups, g)
	}
	b.mu.Unlock()

	for _, g := range groups {
		msg := Message{Topic: topic, Key: key, Payload: payload, Partition: partition}
		g.backlog[partition].Add(1)
		select {
		case g.channels[partition] <- msg:
		case <-ctx.Done():
			g.backlog[partition].Add(-1)
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers handler against topic under consumerGroup, starting
// one worker goroutine per partition.
func (b *MemoryBus) Subscribe(topic, consumerGroup string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	t := b.topic(topic)
	g, ok := t.groups[consumerGroup]
	if !ok {
		g = &groupState{
			channels: make([]chan Message, b.partitions),
			offsets:  make([]atomic.Uint64, b.partitions),
			backlog:  make([]atomic.Int64, b.partitions),
		}
		for i := range g.channels {
			g.channels[i] = make(chan Message, b.partitionDepth)
		}
		t.groups[consumerGroup] = g
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	for p := 0; p < b.partitions; p++ {
		go b.worker(ctx, g, p, topic, consumerGroup, handler)
	}

	return &memorySubscription{cancel: cancel}, nil
}

func (b *MemoryBus) worker(ctx context.Context, g *groupState, partition int, topic, group string, handler Handler) {
	ch := g.channels[partition]
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			g.backlog[partition].Add(-1)
			b.deliver(ctx, g, partition, msg, handler)
		}
	}
}

func (b *MemoryBus) deliver(ctx context.Context, g *groupState, partition int, msg Message, handler Handler) {
	for {
		msg.Attempt++
		err := handler(ctx, msg)
		if err == nil {
			g.offsets[partition].Store(msg.Offset)
			return
		}
		if msg.Attempt > b.maxRedeliveries {
			b.DeadLettered.Add(1)
			b.logger.Warn("dead-lettering message after exhausting redeliveries",
				"topic", msg.Topic, "key", msg.Key, "attempts", msg.Attempt, "error", err)
			return
		}
		b.logger.Debug("redelivering message after handler error",
			"topic", msg.Topic, "key", msg.Key, "attempt", msg.Attempt, "error", err)
	}
}

// Commit is a no-op on MemoryBus: offsets are tracked per-delivery and
// there is no external log to advance. It exists to satisfy the Bus
// contract for parity with an external-log-backed implementation.
func (b *MemoryBus) Commit(topic string, partition int, offset uint64) error {
	return nil
}

// Backlog returns the number of undelivered messages queued for
// (topic, partition) across all consumer groups (the maximum, since
// groups drain independently).
func (b *MemoryBus) Backlog(topic string, partition int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return 0
	}
	max := 0
	for _, g := range t.groups {
		if partition >= len(g.backlog) {
			continue
		}
		if n := int(g.backlog[partition].Load()); n > max {
			max = n
		}
	}
	return max
}

// Full reports whether (topic, partition) is at capacity for any group.
func (b *MemoryBus) Full(topic string, partition int) bool {
	return b.Backlog(topic, partition) >= b.partitionDepth
}

// Close stops all subscriptions and marks the bus closed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.topics {
		for _, g := range t.groups {
			if g.cancel != nil {
				g.cancel()
			}
		}
	}
	return nil
}

type memorySubscription struct {
	cancel func()
}

func (s *memorySubscription) Close() error {
	s.cancel()
	return nil
}
