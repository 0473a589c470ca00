package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Runnable is a consumer the group can start and stop.
type Runnable interface {
	Start(ctx context.Context) error
	Shutdown() error
}

// topical is implemented by consumers bound to a single topic.
type topical interface {
	Topic() string
}

// ConsumerGroup runs the consumers reading from one subscriber, such as the
// decision audit consumers, and owns that subscriber's lifetime.
type ConsumerGroup struct {
	consumers  []Runnable
	subscriber message.Subscriber
	logger     *zap.Logger
}

func NewConsumerGroup(subscriber message.Subscriber, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{
		subscriber: subscriber,
		logger:     logger,
	}
}

func (g *ConsumerGroup) Add(consumer Runnable) {
	g.consumers = append(g.consumers, consumer)
}

// Topics lists the topics of the registered consumers, in registration order.
func (g *ConsumerGroup) Topics() []string {
	topics := make([]string, 0, len(g.consumers))

	for _, consumer := range g.consumers {
		if t, ok := consumer.(topical); ok {
			topics = append(topics, t.Topic())
		}
	}

	return topics
}

// Start starts the consumers in order. On failure the ones already running
// are stopped again in reverse order.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	for i, consumer := range g.consumers {
		if err := consumer.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = g.consumers[j].Shutdown()
			}

			return fmt.Errorf("start consumer %s: %w", describe(consumer, i), err)
		}
	}

	g.logger.Info("consumers started", zap.Strings("topics", g.Topics()))

	return nil
}

// Shutdown stops every consumer and then closes the subscriber, joining
// all failures.
func (g *ConsumerGroup) Shutdown() error {
	g.logger.Info("stopping consumers", zap.Strings("topics", g.Topics()))

	errs := make([]error, 0, len(g.consumers)+1)

	for i, consumer := range g.consumers {
		if err := consumer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("stop consumer %s: %w", describe(consumer, i), err))
		}
	}

	if err := g.subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}

	return errors.Join(errs...)
}

func describe(consumer Runnable, i int) string {
	if t, ok := consumer.(topical); ok {
		return t.Topic()
	}

	return fmt.Sprintf("#%d", i)
}
