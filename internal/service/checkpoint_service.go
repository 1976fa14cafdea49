package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// CheckpointQueue forwards checkpoints to PostgreSQL through the
// persist_checkpoints_queue list. The CheckpointWorker drains it.
type CheckpointQueue struct {
	rdb *redis.Client
}

// NewCheckpointQueue creates a new CheckpointQueue.
func NewCheckpointQueue(rdb *redis.Client) *CheckpointQueue {
	return &CheckpointQueue{rdb: rdb}
}

// PersistCheckpoint enqueues cp.
func (q *CheckpointQueue) PersistCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistCheckpointsQueue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue checkpoint: %w", err)
	}
	return nil
}

// EventPublisher publishes session events on the candidate's Redis channel.
type EventPublisher struct {
	rdb *redis.Client
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(rdb *redis.Client) *EventPublisher {
	return &EventPublisher{rdb: rdb}
}

// Notify publishes ev. Nobody listening is not an error.
func (p *EventPublisher) Notify(ctx context.Context, ev model.SessionEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	channel := config.CacheKey.SessionEventsChannel(ev.ExamID.String(), ev.CandidateID)
	return p.rdb.Publish(ctx, channel, raw).Err()
}

// EventStream is a live subscription to one candidate's session events.
// *redis.PubSub satisfies it.
type EventStream interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// Subscribe opens a subscription to one candidate's session events.
func (p *EventPublisher) Subscribe(ctx context.Context, examID string, candidateID int) EventStream {
	return p.rdb.Subscribe(ctx, config.CacheKey.SessionEventsChannel(examID, candidateID))
}
