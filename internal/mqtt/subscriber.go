package mqtt

import (
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// Subscriber receives live signal readings from sensors and writes them to a
// channel consumed by the live ingestor.
type Subscriber struct {
	client mqtt.Client

	// ReadingChan is written by the subscriber, read by the live ingestor.
	ReadingChan chan *models.SignalReading

	readingTopic string
}

// SubscriberConfig holds the topic pattern for live readings.
type SubscriberConfig struct {
	ReadingTopic string // e.g., "signal/+/reading"
}

// NewSubscriber creates an MQTT subscriber feeding readingChan.
func NewSubscriber(client mqtt.Client, config SubscriberConfig, readingChan chan *models.SignalReading) *Subscriber {
	return &Subscriber{
		client:       client,
		ReadingChan:  readingChan,
		readingTopic: config.ReadingTopic,
	}
}

// Subscribe starts receiving on the reading topic.
func (s *Subscriber) Subscribe() error {
	token := s.client.Subscribe(s.readingTopic, 1, s.handleReading)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to reading topic: %w", token.Error())
	}
	log.Printf("Subscribed to reading topic: %s", s.readingTopic)
	return nil
}

// handleReading parses a raw float payload and forwards it as a reading.
func (s *Subscriber) handleReading(client mqtt.Client, msg mqtt.Message) {
	var value float64
	if _, err := fmt.Sscanf(string(msg.Payload()), "%f", &value); err != nil {
		log.Printf("Error parsing signal value: %v", err)
		return
	}

	entityID := extractEntityID(msg.Topic())
	if entityID == "" {
		log.Printf("Could not extract entity ID from topic: %s", msg.Topic())
		return
	}

	reading := &models.SignalReading{
		Timestamp: time.Now(),
		EntityID:  entityID,
		Value:     value,
	}

	// Non-blocking with timeout; a full channel drops the reading.
	select {
	case s.ReadingChan <- reading:
	case <-time.After(1 * time.Second):
		log.Printf("Warning: Reading channel full, dropping message from %s", entityID)
	}
}

// extractEntityID pulls the entity id out of a topic like
// "signal/{entity_id}/reading".
func extractEntityID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
