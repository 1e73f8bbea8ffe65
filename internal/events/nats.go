package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// defaultOptions keep a long-running connection alive across server restarts.
func defaultOptions(name string) []nats.Option {
	return []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
}

// NATSPublisher publishes JSON-encoded events to NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to url. Extra options are appended to the defaults.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, append(defaultOptions("learnertrace-publisher"), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.conn.Publish(topic, data)
}

// Request sends payload as JSON and waits for the reply. ctx must carry a
// deadline or be cancellable.
func (p *NATSPublisher) Request(ctx context.Context, subject string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	msg, err := p.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	return msg.Data, nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber subscribes to events from NATS subjects.
type NATSSubscriber struct {
	conn *nats.Conn

	closeOnce sync.Once
	closing   chan struct{}
}

// NewNATSSubscriber connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := nats.Connect(url, append(defaultOptions("learnertrace-subscriber"), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc, closing: make(chan struct{})}, nil
}

// Subscribe returns a channel of messages for topic (NATS wildcards allowed).
// Delivery blocks while the channel is full, so a slow consumer applies
// backpressure instead of losing events.
//
// The returned cancel function unsubscribes without blocking. Messages
// already delivered stay readable; the channel closes once the last
// in-flight delivery has landed, so a consumer that keeps reading until
// close sees everything NATS handed over.
func (s *NATSSubscriber) Subscribe(topic, queue string) (<-chan Message, func(), error) {
	ch := make(chan Message, 64)

	var (
		mu       sync.Mutex
		closed   bool
		once     sync.Once
		inflight sync.WaitGroup
	)

	handler := func(msg *nats.Msg) {
		m := Message{Subject: msg.Subject, Data: msg.Data}
		if msg.Reply != "" {
			m.Respond = msg.Respond
		}
		mu.Lock()
		if closed {
			mu.Unlock()
			return
		}
		inflight.Add(1)
		mu.Unlock()
		defer inflight.Done()

		select {
		case ch <- m:
		case <-s.closing:
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = s.conn.QueueSubscribe(topic, queue, handler)
	} else {
		sub, err = s.conn.Subscribe(topic, handler)
	}
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			go func() {
				inflight.Wait()
				close(ch)
			}()
		})
	}

	return ch, cancel, nil
}

// Close drops deliveries still waiting on a full channel and closes the
// connection.
func (s *NATSSubscriber) Close() error {
	s.closeOnce.Do(func() { close(s.closing) })
	s.conn.Close()
	return nil
}
