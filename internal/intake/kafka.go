package intake

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/riskscan/scan-worker/pkg/metrics"
)

const (
	transportKafka = "kafka"

	defaultRequeueDelay = 5 * time.Second
)

// KafkaConsumer reads scan jobs from a consumer group. Offsets are marked only
// for acknowledged messages; a requeue ends the session so that the partition
// is consumed again from the first unmarked offset.
type KafkaConsumer struct {
	group        sarama.ConsumerGroup
	topic        string
	handler      *ConsumerGroupHandler
	requeueDelay time.Duration
	log          *zap.SugaredLogger
}

func NewKafkaConsumer(brokers []string, groupID, topic string, cfg *sarama.Config, handler *Handler) (*KafkaConsumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaConsumerFromGroup(group, topic, handler), nil
}

func NewKafkaConsumerFromGroup(group sarama.ConsumerGroup, topic string, handler *Handler) *KafkaConsumer {
	return &KafkaConsumer{
		group:        group,
		topic:        topic,
		handler:      NewConsumerGroupHandler(handler),
		requeueDelay: defaultRequeueDelay,
		log:          zap.S().Named("kafka_consumer"),
	}
}

// Run consumes until ctx is cancelled or the group is closed.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.log.Warnw("consumer group error", "error", err)
		}
	}()

	for {
		err := c.group.Consume(ctx, []string{c.topic}, c.handler)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err != nil:
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if c.handler.takeRequeued() {
			c.log.Infow("session ended by requeue, rejoining", "delay", c.requeueDelay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.requeueDelay):
			}
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.group.Close()
}

// ConsumerGroupHandler maps handler decisions to offset marks.
type ConsumerGroupHandler struct {
	handler  *Handler
	requeued chan struct{}
}

var _ sarama.ConsumerGroupHandler = (*ConsumerGroupHandler)(nil)

func NewConsumerGroupHandler(handler *Handler) *ConsumerGroupHandler {
	return &ConsumerGroupHandler{handler: handler, requeued: make(chan struct{}, 1)}
}

func (h *ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			decision := h.handler.Handle(session.Context(), msg.Value)
			metrics.IncreaseIntakeMessages(transportKafka, decision.String())
			if decision == Requeue {
				// returning ends the session; the offset stays unmarked
				select {
				case h.requeued <- struct{}{}:
				default:
				}
				return nil
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *ConsumerGroupHandler) takeRequeued() bool {
	select {
	case <-h.requeued:
		return true
	default:
		return false
	}
}
