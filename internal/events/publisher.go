package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TypeRequestCreated  = "request.created"
	TypeRequestAccepted = "request.accepted"
	TypeRequestRejected = "request.rejected"
	TypeRideCancelled   = "ride.cancelled"
)

// Event is what goes on the wire for the notifier. Recipient fields are
// resolved by the publisher side so the notifier never touches the database.
type Event struct {
	Type           string    `json:"type"`
	RideID         string    `json:"ride_id"`
	RequestID      string    `json:"request_id,omitempty"`
	RecipientEmail string    `json:"recipient_email"`
	RecipientName  string    `json:"recipient_name"`
	Departure      string    `json:"departure"`
	Destination    string    `json:"destination"`
	RideDate       time.Time `json:"ride_date"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Publisher{writer: w}
}

func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	b, _ := json.Marshal(ev)
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RideID), Value: b})
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
