package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/coziyoo/backend/internal/config"
)

// Publisher mirrors notification fan-out to a Pub/Sub topic so push
// senders and analytics consume the same stream the app sees. Disabled
// installs keep the in-process hub only.
type Publisher struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	enabled bool
	logger  *log.Logger
}

func NewPublisher(cfg config.PubSubConfig) (*Publisher, error) {
	p := &Publisher{
		enabled: cfg.Enabled,
		logger:  log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}
	if !cfg.Enabled {
		p.logger.Println("Pub/Sub disabled, notifications stay in-process")
		return p, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		if topic, err = client.CreateTopic(ctx, cfg.TopicID); err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
	}
	topic.EnableMessageOrdering = true

	p.client = client
	p.topic = topic
	p.logger.Printf("✅ Connected to Pub/Sub topic: projects/%s/topics/%s", cfg.ProjectID, cfg.TopicID)
	return p, nil
}

// Publish sends one notification, ordered per user so a client replays its
// own stream in order.
func (p *Publisher) Publish(n *Notification) {
	if !p.enabled {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		p.logger.Printf("❌ Failed to marshal notification %s: %v", n.ID, err)
		return
	}
	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": n.EventType,
			"user_id":    n.UserID,
		},
		OrderingKey: n.UserID,
	}
	result := p.topic.Publish(context.Background(), msg)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := result.Get(ctx); err != nil {
			p.logger.Printf("❌ Pub/Sub publish failed for notification %s: %v", n.ID, err)
		}
	}()
}

func (p *Publisher) Close() {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			p.logger.Printf("⚠️ Pub/Sub client close error: %v", err)
		}
	}
}
