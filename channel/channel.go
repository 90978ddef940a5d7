package channel

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	checkout "github.com/mintgate/checkout-go"
)

const defaultCapacity = 16

// Sender delivers an encoded envelope to the embedding page.
type Sender func(encoded string) error

// Handler processes a call arriving from the embedding page.
type Handler func(msg Message) error

// Channel buffers traffic in both directions: outgoing events queue until
// the page handshake provides a sender, incoming calls queue until the
// provider is ready. Each direction is an independent bounded FIFO, drained
// in order the moment its side attaches.
type Channel struct {
	mu       sync.Mutex
	capacity int
	sender   Sender
	handler  Handler
	outgoing []Message
	incoming []Message
	logger   *zap.Logger
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// New creates a channel with the given options.
func New(opts ...ChannelOption) *Channel {
	c := &Channel{
		capacity: defaultCapacity,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCapacity sets each queue's bound.
func WithCapacity(capacity int) ChannelOption {
	return func(c *Channel) {
		c.capacity = capacity
	}
}

// WithLogger sets the channel logger.
func WithLogger(logger *zap.Logger) ChannelOption {
	return func(c *Channel) {
		c.logger = logger
	}
}

// OnHandshake attaches the page sender and drains the outgoing queue.
func (c *Channel) OnHandshake(sender Sender) error {
	c.mu.Lock()
	c.sender = sender
	queued := c.outgoing
	c.outgoing = nil
	c.mu.Unlock()

	for _, msg := range queued {
		if err := c.deliver(sender, msg); err != nil {
			return err
		}
	}
	c.logger.Debug("handshake complete", zap.Int("drained", len(queued)))
	return nil
}

// OnProviderReady attaches the call handler and drains the incoming queue.
func (c *Channel) OnProviderReady(handler Handler) error {
	c.mu.Lock()
	c.handler = handler
	queued := c.incoming
	c.incoming = nil
	c.mu.Unlock()

	for _, msg := range queued {
		if err := handler(msg); err != nil {
			return err
		}
	}
	c.logger.Debug("provider ready", zap.Int("drained", len(queued)))
	return nil
}

// EmitUserInfo implements checkout.PageChannel.
func (c *Channel) EmitUserInfo(info checkout.UserInfo) error {
	return c.emit(KindUserInfo, info)
}

// EmitTransactionInfo implements checkout.PageChannel.
func (c *Channel) EmitTransactionInfo(info checkout.TransactionInfo) error {
	return c.emit(KindTransactionInfo, info)
}

// EmitCloseModal implements checkout.PageChannel.
func (c *Channel) EmitCloseModal() error {
	return c.emit(KindCloseModal, nil)
}

// Receive accepts an encoded call from the embedding page, dispatching it if
// the provider is ready and queueing it otherwise.
func (c *Channel) Receive(encoded string) error {
	msg, err := DecodeMessage(encoded)
	if err != nil {
		return err
	}

	c.mu.Lock()
	handler := c.handler
	if handler == nil {
		if len(c.incoming) >= c.capacity {
			c.mu.Unlock()
			return fmt.Errorf("%w: incoming queue at %d", checkout.ErrChannelBacklog, c.capacity)
		}
		c.incoming = append(c.incoming, msg)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return handler(msg)
}

func (c *Channel) emit(kind MessageKind, payload interface{}) error {
	msg, err := newMessage(kind, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	sender := c.sender
	if sender == nil {
		if len(c.outgoing) >= c.capacity {
			c.mu.Unlock()
			return fmt.Errorf("%w: outgoing queue at %d", checkout.ErrChannelBacklog, c.capacity)
		}
		c.outgoing = append(c.outgoing, msg)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.deliver(sender, msg)
}

// deliver takes the sender captured under the lock so a concurrent handshake
// swapping it cannot race the send.
func (c *Channel) deliver(sender Sender, msg Message) error {
	encoded, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := sender(encoded); err != nil {
		return err
	}
	c.logger.Debug("delivered", zap.String("kind", string(msg.Kind)))
	return nil
}
