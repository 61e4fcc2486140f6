package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// PushSender delivers an in-app notification to a connected user.
type PushSender interface {
	Push(ctx context.Context, msg PushMessage) (string, error)
}

type PushMessage struct {
	UserID         string `json:"userId"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	NotificationID string `json:"notificationId"`
}

// RedisPushSender publishes push payloads on a per-user Redis channel that
// the realtime gateway subscribes to.
type RedisPushSender struct {
	client *redis.Client
	prefix string
}

func NewRedisPushSender(client *redis.Client, prefix string) *RedisPushSender {
	if prefix == "" {
		prefix = "push"
	}
	return &RedisPushSender{client: client, prefix: prefix}
}

func (s *RedisPushSender) Channel(userID string) string {
	return s.prefix + ":" + userID
}

// Push returns the number of subscribers that received the payload.
func (s *RedisPushSender) Push(ctx context.Context, msg PushMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode push payload: %w", err)
	}
	receivers, err := s.client.Publish(ctx, s.Channel(msg.UserID), payload).Result()
	if err != nil {
		return "", fmt.Errorf("publish push: %w", err)
	}
	return strconv.FormatInt(receivers, 10), nil
}

var _ PushSender = (*RedisPushSender)(nil)
