package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"linecare/internal/model"
)

// MessageWriter is the part of *kafka.Writer the channel uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaChannel publishes notifications for a downstream sender (SMS gateway, push service).
type KafkaChannel struct {
	name   string
	topic  string
	writer MessageWriter
}

// NewKafkaWriter builds a writer keyed by hash so one recipient stays on one partition.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaChannel(name, topic string, w MessageWriter) *KafkaChannel {
	return &KafkaChannel{name: name, topic: topic, writer: w}
}

func (k *KafkaChannel) Name() string { return k.name }

type kafkaNotification struct {
	Channel     string         `json:"channel"`
	CompanyID   string         `json:"company_id"`
	RecipientID string         `json:"recipient_id"`
	Type        string         `json:"recipient_type"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Subject     string         `json:"subject"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data,omitempty"`
}

func (k *KafkaChannel) Send(ctx context.Context, r model.Recipient, msg Message) error {
	if k.name == ChannelSMS && r.Phone == "" { return errors.New("recipient has no phone number") }
	b, err := json.Marshal(kafkaNotification{
		Channel:     k.name,
		CompanyID:   r.CompanyID,
		RecipientID: r.ID,
		Type:        r.Type,
		Email:       r.Email,
		Phone:       r.Phone,
		Kind:        msg.Kind,
		Subject:     msg.Subject,
		Body:        msg.Body,
		Data:        msg.Data,
	})
	if err != nil { return fmt.Errorf("encode notification: %w", err) }
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   k.topic,
		Key:     []byte(r.CompanyID + ":" + r.ID),
		Value:   b,
		Headers: []kafka.Header{{Key: "channel", Value: []byte(k.name)}},
		Time:    time.Now().UTC(),
	})
	if err != nil { return fmt.Errorf("failed to publish notification: %w", err) }
	return nil
}
