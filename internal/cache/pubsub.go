package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"pricealerts/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// localCache is the in-process cache a BroadcastCache fronts.
type localCache interface {
	Get(ctx context.Context, key Key) (*models.AlertPage, bool, error)
	Generation(ctx context.Context, ownerID string) (uint64, error)
	Put(ctx context.Context, key Key, generation uint64, page *models.AlertPage) error
	Invalidate(ctx context.Context, ownerID string) error
}

type invalidationMessage struct {
	OwnerID  string `json:"owner_id"`
	Instance string `json:"instance"`
}

// BroadcastCache wraps a per-instance cache and fans owner invalidations out
// to the other instances over a Redis channel.
type BroadcastCache struct {
	local    localCache
	client   *redis.Client
	channel  string
	instance string
	log      *zap.Logger
}

// NewBroadcastCache creates a broadcasting wrapper around local.
func NewBroadcastCache(local localCache, client *redis.Client, channel, instance string, log *zap.Logger) *BroadcastCache {
	return &BroadcastCache{
		local:    local,
		client:   client,
		channel:  channel,
		instance: instance,
		log:      log,
	}
}

// Get reads from the local cache.
func (b *BroadcastCache) Get(ctx context.Context, key Key) (*models.AlertPage, bool, error) {
	return b.local.Get(ctx, key)
}

// Generation reads the local counter. Remote invalidations bump it too.
func (b *BroadcastCache) Generation(ctx context.Context, ownerID string) (uint64, error) {
	return b.local.Generation(ctx, ownerID)
}

// Put writes to the local cache.
func (b *BroadcastCache) Put(ctx context.Context, key Key, generation uint64, page *models.AlertPage) error {
	return b.local.Put(ctx, key, generation, page)
}

// Invalidate drops the owner's local entries, then tells the other instances.
func (b *BroadcastCache) Invalidate(ctx context.Context, ownerID string) error {
	if err := b.local.Invalidate(ctx, ownerID); err != nil {
		return err
	}

	payload, err := json.Marshal(invalidationMessage{OwnerID: ownerID, Instance: b.instance})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Listen subscribes to the invalidation channel and applies messages from
// other instances until ctx is done. It returns once the subscription is
// confirmed.
func (b *BroadcastCache) Listen(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.log.Info("Subscribed to Redis channel", zap.String("channel", b.channel))

	go func() {
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				b.apply(msg)
			}
		}
	}()
	return nil
}

func (b *BroadcastCache) apply(msg *redis.Message) {
	var m invalidationMessage
	if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
		b.log.Warn("Dropping malformed invalidation message", zap.Error(err))
		return
	}
	if m.Instance == b.instance || m.OwnerID == "" {
		return
	}
	if err := b.local.Invalidate(context.Background(), m.OwnerID); err != nil {
		b.log.Warn("Failed to apply remote invalidation",
			zap.String("from_instance", m.Instance),
			zap.Error(err),
		)
	}
}
