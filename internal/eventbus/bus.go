// Package eventbus is an in-process, address-based message bus. It supports
// one-to-many publication, one-way point-to-point sends and request/reply
// exchanges. Payloads are opaque byte slices, normally JSON documents.
package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatty/internal/metrics"
)

var (
	// ErrNoConsumer is returned when sending to an address nobody consumes.
	ErrNoConsumer = errors.New("eventbus: no consumer for address")
	// ErrConsumerExists is returned when an address already has a consumer.
	ErrConsumerExists = errors.New("eventbus: address already has a consumer")
	// ErrClosed is returned once the bus has been closed.
	ErrClosed = errors.New("eventbus: closed")
)

// Delivery is a message handed to a subscriber or consumer.
type Delivery struct {
	Address string
	Body    []byte

	reply chan []byte
}

// ExpectsReply reports whether the sender is waiting for a reply.
func (d *Delivery) ExpectsReply() bool {
	return d.reply != nil
}

// Reply answers a request. Only the first reply is kept; replying to a
// delivery that expects none is a no-op.
func (d *Delivery) Reply(body []byte) {
	if d.reply == nil {
		return
	}
	select {
	case d.reply <- body:
	default:
	}
}

// Bus routes messages between components of a single process.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]struct{}
	consumers   map[string]*Consumer
	closed      bool
	logger      zerolog.Logger
}

// New creates an empty bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]map[*Subscription]struct{}),
		consumers:   make(map[string]*Consumer),
		logger:      logger.With().Str("component", "eventbus").Logger(),
	}
}

// Publish delivers body to every current subscriber of address. It never
// blocks: subscribers whose buffer is full miss the message. Returns the
// number of subscribers the message was delivered to.
func (b *Bus) Publish(address string, body []byte) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	delivered := 0
	for sub := range b.subscribers[address] {
		select {
		case sub.ch <- &Delivery{Address: address, Body: body}:
			delivered++
		default:
			metrics.BusDropped.WithLabelValues(metrics.AddressLabel(address)).Inc()
			b.logger.Debug().Str("address", address).Msg("subscriber buffer full, dropping")
		}
	}
	metrics.BusPublished.WithLabelValues(metrics.AddressLabel(address)).Inc()
	return delivered
}

// Subscribe registers a new subscriber on address with the given buffer size.
func (b *Bus) Subscribe(address string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		bus:     b,
		address: address,
		ch:      make(chan *Delivery, buffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	if b.subscribers[address] == nil {
		b.subscribers[address] = make(map[*Subscription]struct{})
	}
	b.subscribers[address][sub] = struct{}{}
	return sub
}

// Consume registers the single point-to-point consumer for address.
func (b *Bus) Consume(address string, buffer int) (*Consumer, error) {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.consumers[address]; exists {
		return nil, ErrConsumerExists
	}

	c := &Consumer{
		bus:     b,
		address: address,
		ch:      make(chan *Delivery, buffer),
		done:    make(chan struct{}),
	}
	b.consumers[address] = c
	return c, nil
}

// Send delivers body to the consumer of address without expecting a reply.
// It blocks while the consumer's buffer is full, until ctx is done.
func (b *Bus) Send(ctx context.Context, address string, body []byte) error {
	return b.deliver(ctx, &Delivery{Address: address, Body: body})
}

// Request delivers body to the consumer of address and waits for its reply.
func (b *Bus) Request(ctx context.Context, address string, body []byte) ([]byte, error) {
	d := &Delivery{Address: address, Body: body, reply: make(chan []byte, 1)}
	if err := b.deliver(ctx, d); err != nil {
		return nil, err
	}

	select {
	case reply := <-d.reply:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bus) deliver(ctx context.Context, d *Delivery) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	c, ok := b.consumers[d.Address]
	b.mu.RUnlock()
	if !ok {
		return ErrNoConsumer
	}

	select {
	case c.ch <- d:
		return nil
	case <-c.done:
		return ErrNoConsumer
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes all subscriptions and consumers. Further operations fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for sub := range subs {
			sub.closed = true
			close(sub.ch)
		}
	}
	for _, c := range b.consumers {
		close(c.done)
	}
	b.subscribers = make(map[string]map[*Subscription]struct{})
	b.consumers = make(map[string]*Consumer)
}

// Subscription receives published messages for one address.
type Subscription struct {
	bus     *Bus
	address string
	ch      chan *Delivery
	closed  bool // guarded by bus.mu
}

// Address returns the subscribed address.
func (s *Subscription) Address() string {
	return s.address
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan *Delivery {
	return s.ch
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if subs, ok := b.subscribers[s.address]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.subscribers, s.address)
		}
	}
	close(s.ch)
}

// Consumer receives point-to-point messages for one address.
type Consumer struct {
	bus     *Bus
	address string
	ch      chan *Delivery
	done    chan struct{}
}

// C returns the delivery channel. It is never closed; use Done to observe
// shutdown.
func (c *Consumer) C() <-chan *Delivery {
	return c.ch
}

// Done is closed when the consumer is released or the bus is closed.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Close releases the address so another consumer can take it.
func (c *Consumer) Close() {
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumers[c.address] == c {
		delete(b.consumers, c.address)
		close(c.done)
	}
}
