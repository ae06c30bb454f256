// Package redisbus implements broadcast.Broadcaster over Redis pub/sub so
// sessions of one room may live in different processes.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/drawroom/internal/services/collab/broadcast"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "drawroom:room:"

	subscriptionRetryDelay = time.Second
)

// Bus publishes notifications to a Redis channel per room and relays every
// message received on that channel to the local members of the room.
type Bus struct {
	client     *redis.Client
	hub        *broadcast.Hub
	logger     *zap.Logger
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	subscribers map[string]context.CancelFunc
	wg          sync.WaitGroup
}

// New returns a bus on client. Close stops every room subscription but
// leaves the client open.
func New(client *redis.Client, logger *zap.Logger) (*Bus, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		client:      client,
		hub:         broadcast.NewHub(),
		logger:      logger,
		retryDelay:  subscriptionRetryDelay,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[string]context.CancelFunc),
	}, nil
}

// Channel names the Redis channel carrying room notifications.
func Channel(room string) string {
	return channelPrefix + strings.TrimSpace(room)
}

// Join registers member locally. The first local member of a room starts
// its subscription, which is confirmed before Join returns.
func (b *Bus) Join(ctx context.Context, room string, member broadcast.Member) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	first, err := b.hub.JoinFirst(room, member)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	if err := b.ensureSubscription(ctx, room); err != nil {
		_, _ = b.hub.LeaveLast(room, member)
		return err
	}
	return nil
}

// Leave unregisters member. The last local member of a room stops its
// subscription.
func (b *Bus) Leave(_ context.Context, room string, member broadcast.Member) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, err := b.hub.LeaveLast(room, member)
	if err != nil {
		return err
	}
	if last {
		b.releaseSubscription(room)
	}
	return nil
}

// Send publishes notification on the room channel.
func (b *Bus) Send(ctx context.Context, room string, notification broadcast.Notification) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return errors.New("broadcast room is required")
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close stops all subscriptions and waits for their workers.
func (b *Bus) Close() error {
	b.cancel()
	b.mu.Lock()
	for room, cancel := range b.subscribers {
		cancel()
		delete(b.subscribers, room)
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func (b *Bus) ensureSubscription(ctx context.Context, room string) error {
	room = strings.TrimSpace(room)
	if _, exists := b.subscribers[room]; exists {
		return nil
	}
	if b.ctx.Err() != nil {
		return errors.New("broadcast bus is closed")
	}

	pubsub := b.client.Subscribe(ctx, Channel(room))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe room %s: %w", room, err)
	}

	subCtx, subCancel := context.WithCancel(b.ctx)
	b.subscribers[room] = subCancel
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(subCtx, room, pubsub)
	}()
	return nil
}

func (b *Bus) releaseSubscription(room string) {
	room = strings.TrimSpace(room)
	cancel, exists := b.subscribers[room]
	if !exists {
		return
	}
	delete(b.subscribers, room)
	cancel()
}

// consume relays messages until ctx ends, resubscribing after a delay when
// the subscription drops.
func (b *Bus) consume(ctx context.Context, room string, pubsub *redis.PubSub) {
	for {
		b.relay(ctx, room, pubsub)
		_ = pubsub.Close()
		if !waitRetry(ctx, b.retryDelay) {
			return
		}

		pubsub = b.client.Subscribe(ctx, Channel(room))
		if _, err := pubsub.Receive(ctx); err != nil {
			b.logger.Warn("resubscribe room failed", zap.String("room", room), zap.Error(err))
			continue
		}
	}
}

func (b *Bus) relay(ctx context.Context, room string, pubsub *redis.PubSub) {
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				b.logger.Warn("room subscription closed", zap.String("room", room))
				return
			}
			var notification broadcast.Notification
			if err := json.Unmarshal([]byte(message.Payload), &notification); err != nil {
				b.logger.Debug("discard malformed notification", zap.String("room", room), zap.Error(err))
				continue
			}
			b.hub.Deliver(room, notification)
		}
	}
}

func waitRetry(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var _ broadcast.Broadcaster = (*Bus)(nil)
