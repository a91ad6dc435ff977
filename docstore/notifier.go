package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// ChangeEvent tells sibling services a collection changed, so they can react
// without polling MySQL themselves.
type ChangeEvent struct {
	Collection string    `json:"collection"`
	Count      int       `json:"count"`
	ObservedAt time.Time `json:"observed_at"`
}

// Notifier publishes change events to a durable direct exchange. It
// reconnects on a closed connection and retries the publish once.
type Notifier struct {
	mu       sync.Mutex
	amqpURL  string
	exchange string
	conn     *amqp.Connection
	channel  *amqp.Channel
}

// NewNotifier connects to RabbitMQ and declares the exchange.
func NewNotifier(amqpURL, exchange string) (*Notifier, error) {
	n := &Notifier{
		amqpURL:  amqpURL,
		exchange: exchange,
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.connectLocked(); err != nil {
		return nil, err
	}
	return n, nil
}

// NotifyChange publishes a change event routed by collection name.
func (n *Notifier) NotifyChange(collection string, count int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body, err := json.Marshal(ChangeEvent{
		Collection: collection,
		Count:      count,
		ObservedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	return n.publish(ctx, collection, publishing)
}

// Close closes the channel and connection.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var err error
	if n.channel != nil {
		if channelErr := n.channel.Close(); channelErr != nil {
			err = channelErr
		}
	}
	if n.conn != nil {
		if connErr := n.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
	}
	return err
}

func (n *Notifier) connectLocked() error {
	conn, err := amqp.Dial(n.amqpURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		n.exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	n.conn = conn
	n.channel = ch
	return nil
}

func (n *Notifier) closeLocked() {
	if n.channel != nil {
		_ = n.channel.Close()
		n.channel = nil
	}
	if n.conn != nil {
		_ = n.conn.Close()
		n.conn = nil
	}
}

func isConnClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "channel/connection is not open")
}

func (n *Notifier) publish(ctx context.Context, routingKey string, publishing amqp.Publishing) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil || n.conn.IsClosed() || n.channel == nil {
		n.closeLocked()
		if err := n.connectLocked(); err != nil {
			return err
		}
	}

	err := n.channel.Publish(n.exchange, routingKey, false, false, publishing)
	if err != nil && isConnClosedErr(err) {
		n.closeLocked()
		if connErr := n.connectLocked(); connErr != nil {
			return fmt.Errorf("failed to publish change event: %w (reconnect failed: %v)", err, connErr)
		}
		err = n.channel.Publish(n.exchange, routingKey, false, false, publishing)
	}
	if err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("timed out publishing change event: %w", ctx.Err())
	default:
	}
	return nil
}
