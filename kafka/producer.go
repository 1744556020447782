package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
)

// DetectionEvent announces one finished detection run to downstream
// consumers. Delivery is a notification only; the pipeline itself stays
// synchronous.
type DetectionEvent struct {
	TaskID     string `json:"task_id"`
	TraceID    string `json:"trace_id"`
	Model      string `json:"model"`
	Status     string `json:"status"`
	Detections int    `json:"detections"`
}

type Producer interface {
	SendDetectionEvent(ctx context.Context, topic string, event *DetectionEvent) error
	Close() error
}

type producer struct {
	producer sarama.SyncProducer
}

func NewProducer(brokers []string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &producer{producer: p}, nil
}

func (p *producer) SendDetectionEvent(ctx context.Context, topic string, event *DetectionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.TaskID),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *producer) Close() error {
	return p.producer.Close()
}
