// Package events публикует события начислений во внешнюю шину.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/mmeshcher/yieldmart/internal/model"
)

// EventTypeAccrual записывается в заголовок event_type.
const EventTypeAccrual = "daily_earning_accrued"

const produceTimeout = 5 * time.Second

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher публикует события начислений в Kafka.
type KafkaPublisher struct {
	client producer
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher создаёт продюсер для указанных брокеров.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("yieldmart"),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return newKafkaPublisher(client, topic, logger), nil
}

func newKafkaPublisher(client producer, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic, logger: logger}
}

// PublishAccrual синхронно отправляет событие начисления.
// Ключ записи равен идентификатору позиции, поэтому события одной позиции упорядочены.
func (p *KafkaPublisher) PublishAccrual(ctx context.Context, ev model.AccrualEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.PositionID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventTypeAccrual)},
			{Key: "user_id", Value: []byte(ev.UserID.String())},
			{Key: "run_id", Value: []byte(ev.RunID)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	p.logger.Debug("accrual event published",
		zap.String("topic", p.topic),
		zap.String("position_id", ev.PositionID.String()),
	)
	return nil
}

// Close сбрасывает буферы и закрывает соединения с брокерами.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// Noop отбрасывает события. Используется, когда брокеры не настроены.
type Noop struct{}

// PublishAccrual ничего не делает.
func (Noop) PublishAccrual(context.Context, model.AccrualEvent) error { return nil }
