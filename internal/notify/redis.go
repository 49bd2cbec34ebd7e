package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"prizedraw/internal/draw"
)

const (
	DefaultListKey = "prizedraw:announcements"
	DefaultChannel = "prizedraw.announcements"
)

// RedisNotifier appends each announcement to a list for the announcer to
// drain and publishes it for live subscribers.
type RedisNotifier struct {
	client  redis.UniversalClient
	listKey string
	channel string
}

// NewRedisNotifier connects to url (redis://host:port/db) and pings it.
func NewRedisNotifier(url, listKey, channel string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisNotifierWithClient(client, listKey, channel), nil
}

func NewRedisNotifierWithClient(client redis.UniversalClient, listKey, channel string) *RedisNotifier {
	if listKey == "" {
		listKey = DefaultListKey
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, listKey: listKey, channel: channel}
}

func (n *RedisNotifier) Close() error { return n.client.Close() }

func (n *RedisNotifier) NotifyWinnerSelected(ctx context.Context, w draw.PendingWinner) error {
	return n.push(ctx, Announcement{Kind: KindWinnerSelected, Winner: w})
}

func (n *RedisNotifier) NotifyPaymentConfirmed(ctx context.Context, w draw.PendingWinner, operatorID string) error {
	return n.push(ctx, Announcement{Kind: KindPaymentConfirmed, Winner: w, OperatorID: operatorID})
}

func (n *RedisNotifier) push(ctx context.Context, a Announcement) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = n.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, n.listKey, payload)
		pipe.Publish(ctx, n.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis announce %s: %w", a.Kind, err)
	}
	return nil
}
