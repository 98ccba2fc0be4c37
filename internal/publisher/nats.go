package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blockedby/tg-warehouse/internal/harvester"
	"github.com/nats-io/nats.go"
)

// SubjectChatHarvested is emitted once per chat at the end of its window.
const SubjectChatHarvested = "harvest.chat"

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher implements harvester.EventPublisher
type NATSPublisher struct {
	conn NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// PublishChatHarvested publishes a chat-harvested event
func (p *NATSPublisher) PublishChatHarvested(_ context.Context, event harvester.ChatHarvestedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.conn.Publish(SubjectChatHarvested, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}
