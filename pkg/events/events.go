// Package events publishes risk drivers to downstream consumers over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-riskgraph/pkg/models"
)

// Driver hand-off topics.
const (
	TopicNudge     = "nudge"
	TopicAutopilot = "autopilot"
)

// DriverBatch is the payload handed to driver consumers after a risk run.
// Consumers dedupe on IdempotencyKey; one key per (org, day).
type DriverBatch struct {
	OrgID          uuid.UUID      `json:"org_id"`
	AsOfDate       string         `json:"as_of_date"`
	Drivers        models.Drivers `json:"drivers"`
	IdempotencyKey string         `json:"idempotency_key"`
	EmittedAt      time.Time      `json:"emitted_at"`
}

// NewDriverBatch builds the payload for a snapshot's drivers.
func NewDriverBatch(orgID uuid.UUID, asOfDate time.Time, drivers models.Drivers, now time.Time) DriverBatch {
	day := models.AsOfDate(asOfDate).Format(time.DateOnly)
	if drivers == nil {
		drivers = models.Drivers{}
	}
	return DriverBatch{
		OrgID:          orgID,
		AsOfDate:       day,
		Drivers:        drivers,
		IdempotencyKey: orgID.String() + ":" + day,
		EmittedAt:      now.UTC(),
	}
}

// Publisher delivers driver batches to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, batch DriverBatch) error
}

// redisClient is the subset of *redis.Client the publisher needs.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type redisPublisher struct {
	rdb    redisClient
	prefix string
}

// NewRedisPublisher creates a Publisher over Redis pub/sub.
// Channels are named "<prefix>:drivers:<topic>".
func NewRedisPublisher(rdb *redis.Client, prefix string) Publisher {
	return newRedisPublisher(rdb, prefix)
}

func newRedisPublisher(rdb redisClient, prefix string) *redisPublisher {
	if prefix == "" {
		prefix = "riskgraph"
	}
	return &redisPublisher{rdb: rdb, prefix: prefix}
}

// Channel returns the Redis channel for a topic.
func (p *redisPublisher) Channel(topic string) string {
	return p.prefix + ":drivers:" + topic
}

func (p *redisPublisher) Publish(ctx context.Context, topic string, batch DriverBatch) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal driver batch: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.Channel(topic), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish drivers to %s: %w", topic, err)
	}
	return nil
}
