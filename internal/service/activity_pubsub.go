package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sublingo/internal/logger"
	"sublingo/internal/model"
)

const activityChannelSuffix = "stream-activity"

// activityMessage is the wire shape on the pub/sub channel. InstanceID
// lets an instance recognize and drop its own broadcasts.
type activityMessage struct {
	InstanceID string               `json:"instanceId"`
	Record     model.ActivityRecord `json:"record"`
}

// ActivityPubSub bridges the activity bus across instances over Redis
// pub/sub. Publishing and subscribing use separate clients: a client in
// subscribe mode cannot issue regular commands.
type ActivityPubSub struct {
	instanceID string
	channel    string
	publisher  *redis.Client
	subscriber *redis.Client
	pubsub     *redis.PubSub
	done       chan struct{}
}

// NewActivityPubSub connects both clients and subscribes to the activity
// channel. keyPrefix namespaces the channel when several deployments
// share one Redis.
func NewActivityPubSub(ctx context.Context, redisURL, keyPrefix string) (*ActivityPubSub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	channel := activityChannelSuffix
	if keyPrefix != "" {
		channel = keyPrefix + ":" + channel
	}

	p := &ActivityPubSub{
		instanceID: uuid.NewString(),
		channel:    channel,
		publisher:  redis.NewClient(opts),
		subscriber: redis.NewClient(opts),
		done:       make(chan struct{}),
	}

	if err := p.publisher.Ping(ctx).Err(); err != nil {
		p.publisher.Close()
		p.subscriber.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p.pubsub = p.subscriber.Subscribe(ctx, channel)
	if _, err := p.pubsub.Receive(ctx); err != nil {
		p.pubsub.Close()
		p.publisher.Close()
		p.subscriber.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	logger.Info("activity pub/sub connected", "module", "service", "action", "connect", "resource", "redis", "result", "ok",
		"channel", channel, "instance", p.instanceID)
	return p, nil
}

// Publish broadcasts a local activity change to all instances.
func (p *ActivityPubSub) Publish(ctx context.Context, rec model.ActivityRecord) error {
	payload, err := json.Marshal(activityMessage{InstanceID: p.instanceID, Record: rec})
	if err != nil {
		return fmt.Errorf("marshal activity message: %w", err)
	}
	if err := p.publisher.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// Receive pumps remote activity messages into the bus until the context
// is cancelled or Close is called. Run it in its own goroutine.
func (p *ActivityPubSub) Receive(ctx context.Context, bus *ActivityService) error {
	ch := p.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			p.handle(msg.Payload, bus)
		}
	}
}

func (p *ActivityPubSub) handle(payload string, bus *ActivityService) {
	var msg activityMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		logger.Warn("activity message malformed", "module", "service", "action", "receive", "resource", "redis", "result", "failed", "error", err)
		return
	}
	if msg.InstanceID == p.instanceID {
		return
	}
	if err := bus.ApplyRemote(msg.Record); err != nil {
		logger.Warn("remote activity rejected", "module", "service", "action", "receive", "resource", "redis", "result", "failed", "error", err)
	}
}

// Close unsubscribes and disconnects both clients.
func (p *ActivityPubSub) Close() error {
	close(p.done)
	perr := p.pubsub.Close()
	if err := p.publisher.Close(); perr == nil {
		perr = err
	}
	if err := p.subscriber.Close(); perr == nil {
		perr = err
	}
	return perr
}
