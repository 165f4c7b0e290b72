package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// Publisher mirrors broadcast messages to an MQTT topic so external
// consumers can follow the live stream without an SSE connection.
type Publisher struct {
	client mqtt.Client

	// MessageChan is subscribed to the broadcast bus by the caller.
	MessageChan chan models.BroadcastMessage

	streamTopic string // e.g., "signal/{entity_id}/stream"
}

// PublisherConfig holds the stream topic pattern.
type PublisherConfig struct {
	StreamTopic string
}

// NewPublisher creates an MQTT mirror publisher reading from messageChan.
func NewPublisher(client mqtt.Client, config PublisherConfig, messageChan chan models.BroadcastMessage) *Publisher {
	return &Publisher{
		client:      client,
		MessageChan: messageChan,
		streamTopic: config.StreamTopic,
	}
}

// Start republishes broadcast messages until ctx is cancelled or the channel
// is closed.
func (p *Publisher) Start(ctx context.Context) {
	log.Println("MQTT Publisher: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("MQTT Publisher: Context cancelled, shutting down...")
			return

		case msg, ok := <-p.MessageChan:
			if !ok {
				log.Println("MQTT Publisher: Message channel closed, shutting down...")
				return
			}
			if err := p.publish(msg); err != nil {
				log.Printf("Error mirroring broadcast message: %v", err)
			}
		}
	}
}

func (p *Publisher) publish(msg models.BroadcastMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast message: %w", err)
	}

	topic := strings.ReplaceAll(p.streamTopic, "{entity_id}", msg.EntityID)
	token := p.client.Publish(topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish broadcast message: %w", token.Error())
	}
	return nil
}
