// Package pubsub publishes crawl and import notifications to Google Cloud
// Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Publisher sends JSON payloads to Pub/Sub topics. One topic publisher is
// created lazily per topic and reused.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Publisher
	closed bool
}

// New wraps client. The caller keeps ownership of the client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Publisher)}
}

// Publish marshals payload to JSON and waits for the server-assigned ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", errors.New("pubsub topic is required")
	}
	publisher, err := p.publisher(topic)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: attributes(payload)}
	id, err := publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) publisher(topic string) (*pubsub.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil, errors.New("pubsub client is not configured")
	}
	if p.closed {
		return nil, errors.New("pubsub publisher is closed")
	}
	if pub, ok := p.topics[topic]; ok {
		return pub, nil
	}
	pub := p.client.Publisher(topic)
	p.topics[topic] = pub
	return pub, nil
}

// Close flushes and stops every topic publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pub := range p.topics {
		pub.Stop()
	}
	p.topics = map[string]*pubsub.Publisher{}
	p.closed = true
	return nil
}

// attributes lifts the event name of map payloads so subscribers can filter
// without decoding the body.
func attributes(payload any) map[string]string {
	attrs := map[string]string{"content_type": "application/json"}
	if m, ok := payload.(map[string]any); ok {
		if event, ok := m["event"].(string); ok && event != "" {
			attrs["event"] = event
		}
	}
	return attrs
}
