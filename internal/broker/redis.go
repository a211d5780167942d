package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes on a shared client.
type RedisPublisher struct {
	client redis.Cmdable
}

// NewRedisPublisher constructs a RedisPublisher.
func NewRedisPublisher(client redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends message on channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, message string) error {
	if err := p.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// RedisSubscriber dials a new connection for every subscription.
type RedisSubscriber struct {
	opts *redis.Options
}

// NewRedisSubscriber constructs a RedisSubscriber from connection options.
func NewRedisSubscriber(opts *redis.Options) *RedisSubscriber {
	return &RedisSubscriber{opts: opts}
}

// Subscribe opens a dedicated connection subscribed to channel.
func (s *RedisSubscriber) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	opts := *s.opts
	opts.PoolSize = 1
	client := redis.NewClient(&opts)

	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{
		client:  client,
		pubsub:  pubsub,
		channel: channel,
		out:     make(chan string, 64),
		done:    make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

type redisSubscription struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
	out     chan string
	done    chan struct{}

	unsubOnce sync.Once
	closeOnce sync.Once
	unsubErr  error
	closeErr  error
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	in := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- msg.Payload:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan string {
	return s.out
}

func (s *redisSubscription) Unsubscribe(ctx context.Context) error {
	s.unsubOnce.Do(func() {
		s.unsubErr = s.pubsub.Unsubscribe(ctx, s.channel)
	})
	return s.unsubErr
}

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.pubsub.Close(); err != nil {
			s.closeErr = err
		}
		if err := s.client.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
