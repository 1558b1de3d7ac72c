package main

import (
	"context"
	"errors"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/outbox/registry"
)

type pubSubClient interface {
	Ping(context.Context) error
	FileEventsPublisher() *gcppubsub.Publisher
	Publisher(name string) *gcppubsub.Publisher
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// topicPublishers reuses the long-lived file events publisher and looks up any other
// topic on demand.
func topicPublishers(client pubSubClient, fileTopic string) publisherFactory {
	return func(topic string) publisher {
		if topic == fileTopic {
			return newPubSubPublisher(client.FileEventsPublisher())
		}
		return newPubSubPublisher(client.Publisher(topic))
	}
}

// messageFor carries the stored envelope unchanged. Subscribers filter on the
// attributes and key on aggregate_id.
func messageFor(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"schema_version": strconv.Itoa(resolved.Envelope.Version),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

func newPubSubPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &pubsubPublisher{Publisher: p}
}

type pubsubPublisher struct {
	*gcppubsub.Publisher
}

func (p *pubsubPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &pubsubPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type pubsubPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *pubsubPublishResult) Get(ctx context.Context) (string, error) {
	if r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
