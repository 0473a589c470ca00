package container

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/samber/do"
	"github.com/serroba/consultation-ratelimit/internal/analytics"
	analyticsstore "github.com/serroba/consultation-ratelimit/internal/analytics/store"
	"github.com/serroba/consultation-ratelimit/internal/messaging"
	"go.uber.org/zap"
)

// AuditConsumerGroup is the redis stream consumer group reading decision events.
const AuditConsumerGroup = "ratelimit-audit"

// PublisherGroupPackage provides the decision event publisher for Options.Events.
// With the memory transport an in-process audit consumer is started as well.
func PublisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (messaging.Publish[analytics.DecisionEvent], error) {
		opts := do.MustInvoke[*Options](i)
		if opts.Events == EventsNone || opts.Events == "" {
			return messaging.Discard[analytics.DecisionEvent](), nil
		}

		group, err := do.Invoke[*messaging.PublisherGroup](i)
		if err != nil {
			return nil, err
		}

		return messaging.NewPublishFunc[analytics.DecisionEvent](group.Publisher(), analytics.TopicDecision), nil
	})

	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		switch opts.Events {
		case EventsMemory:
			pubsub := do.MustInvoke[*gochannel.GoChannel](i)
			if _, err := do.Invoke[*messaging.ConsumerGroup](i); err != nil {
				return nil, err
			}

			return messaging.NewPublisherGroup(pubsub), nil
		case EventsRedis:
			client := do.MustInvoke[*RedisClient](i)

			publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
				Client:     client.Client,
				Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
			}, messaging.NewZapLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("create redis stream publisher: %w", err)
			}

			return messaging.NewPublisherGroup(publisher), nil
		default:
			return nil, fmt.Errorf("unknown events transport %q", opts.Events)
		}
	})

	do.Provide(injector, func(i *do.Injector) (*gochannel.GoChannel, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, messaging.NewZapLogger(logger)), nil
	})

	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		pubsub := do.MustInvoke[*gochannel.GoChannel](i)

		return startAuditGroup(i, pubsub)
	})
}

// ConsumerGroupPackage provides a *messaging.ConsumerGroup reading decision
// events from redis streams into the audit sink.
func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		client := do.MustInvoke[*RedisClient](i)
		logger := do.MustInvoke[*zap.Logger](i)

		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        client.Client,
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: AuditConsumerGroup,
		}, messaging.NewZapLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create redis stream subscriber: %w", err)
		}

		return newAuditGroup(subscriber, logger), nil
	})
}

func newAuditGroup(subscriber message.Subscriber, logger *zap.Logger) *messaging.ConsumerGroup {
	sink := analyticsstore.NewNoop(logger)

	group := messaging.NewConsumerGroup(subscriber, logger)
	group.Add(messaging.NewConsumer[analytics.DecisionEvent](
		subscriber, analytics.TopicDecision, sink.SaveDecision, logger,
	))

	return group
}

func startAuditGroup(i *do.Injector, subscriber message.Subscriber) (*messaging.ConsumerGroup, error) {
	group := newAuditGroup(subscriber, do.MustInvoke[*zap.Logger](i))

	if err := group.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start audit consumers: %w", err)
	}

	return group, nil
}
