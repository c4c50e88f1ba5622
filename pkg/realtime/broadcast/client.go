package broadcast

import (
	"context"
	"sync"

	"github.com/travigo/bustracker/pkg/ctdf"
	"github.com/travigo/bustracker/pkg/realtime/subscriptions"
)

const DefaultQueueSize = 32

// Sink writes events to the underlying transport of a connection
type Sink interface {
	WriteEvent(event ctdf.Event) error
}

// Client is a subscriber connection with a bounded outbox. Events are written by a single
// goroutine in Run so a connection receives them in the order they were delivered.
type Client struct {
	id   string
	sink Sink

	queue chan ctdf.Event
	done  chan struct{}

	closeOnce sync.Once
}

func NewClient(id string, sink Sink, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Client{
		id:    id,
		sink:  sink,
		queue: make(chan ctdf.Event, queueSize),
		done:  make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Deliver queues the event without blocking
func (c *Client) Deliver(event ctdf.Event) error {
	select {
	case <-c.done:
		return subscriptions.ErrClosed
	default:
	}

	select {
	case c.queue <- event:
		return nil
	default:
		return subscriptions.ErrQueueFull
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client has been closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Run writes queued events to the sink until the client is closed, the context ends or a write fails
func (c *Client) Run(ctx context.Context) error {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case event := <-c.queue:
			if err := c.sink.WriteEvent(event); err != nil {
				return err
			}
		}
	}
}
