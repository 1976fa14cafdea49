package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

const (
	CheckpointBatchTimeout = 2 * time.Second
	CheckpointPollTimeout  = 1 * time.Second
	CheckpointRetryDelay   = 5 * time.Second
)

type checkpointWriter interface {
	Upsert(ctx context.Context, cp *model.Checkpoint) error
	UpsertMany(ctx context.Context, batch []*model.Checkpoint) error
}

// CheckpointWorker consumes persist_checkpoints_queue and UPSERTs checkpoints to PostgreSQL.
type CheckpointWorker struct {
	repo      checkpointWriter
	rdb       *redis.Client
	batchSize int
	log       zerolog.Logger

	requeue func(ctx context.Context, raw []byte) error
	sleep   func(time.Duration)
}

// NewCheckpointWorker creates a new CheckpointWorker.
func NewCheckpointWorker(repo checkpointWriter, rdb *redis.Client, batchSize int, log zerolog.Logger) *CheckpointWorker {
	if batchSize < 1 {
		batchSize = 1
	}
	w := &CheckpointWorker{
		repo:      repo,
		rdb:       rdb,
		batchSize: batchSize,
		log:       log.With().Str("component", "checkpoint_worker").Logger(),
		sleep:     time.Sleep,
	}
	w.requeue = func(ctx context.Context, raw []byte) error {
		return w.rdb.RPush(ctx, config.WorkerKey.PersistCheckpointsQueue, raw).Err()
	}
	return w
}

// Start begins the worker loop. Call in a goroutine.
func (w *CheckpointWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Msg("Worker started")

	batch := make([]*model.Checkpoint, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= CheckpointBatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// The batch is flushed before the queue drains so older checkpoints land first.
			w.flushSafe(context.Background(), batch)
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			item, err := w.rdb.BLPop(ctx, CheckpointPollTimeout, config.WorkerKey.PersistCheckpointsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}
			if cp := w.decode(item[1]); cp != nil {
				batch = append(batch, cp)
			}
		}
	}
}

func (w *CheckpointWorker) decode(raw string) *model.Checkpoint {
	var cp model.Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload")
		return nil
	}
	return &cp
}

// flushSafe writes batch in one statement, falling back to single upserts.
// Checkpoints that still fail go back on the queue.
func (w *CheckpointWorker) flushSafe(ctx context.Context, batch []*model.Checkpoint) {
	if len(batch) == 0 {
		return
	}

	latest := latestPerSession(batch)
	err := w.repo.UpsertMany(ctx, latest)
	if err == nil {
		w.log.Debug().Int("received", len(batch)).Int("written", len(latest)).Msg("Batch persisted")
		return
	}
	w.log.Warn().Err(err).Msg("Bulk checkpoint upsert failed, using fallback")

	failed := 0
	for _, cp := range latest {
		if err := w.repo.Upsert(ctx, cp); err != nil {
			failed++
			w.log.Error().Err(err).
				Int("student_id", cp.CandidateID).
				Str("exam_id", cp.ExamID.String()).
				Msg("Upsert failed, requeueing")
			raw, _ := json.Marshal(cp)
			if err := w.requeue(ctx, raw); err != nil {
				w.log.Error().Err(err).Msg("Requeue failed, checkpoint dropped")
			}
		}
	}
	if failed > 0 {
		w.sleep(CheckpointRetryDelay)
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *CheckpointWorker) drain(ctx context.Context) {
	var batch []*model.Checkpoint
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistCheckpointsQueue).Result()
		if err != nil {
			break
		}
		if cp := w.decode(raw); cp != nil {
			batch = append(batch, cp)
		}
	}
	if len(batch) == 0 {
		return
	}

	latest := latestPerSession(batch)
	if err := w.repo.UpsertMany(ctx, latest); err != nil {
		w.log.Error().Err(err).Int("count", len(latest)).Msg("Drain persist error, requeueing for next start")
		for _, cp := range latest {
			raw, _ := json.Marshal(cp)
			_ = w.requeue(ctx, raw)
		}
		return
	}
	w.log.Info().Int("count", len(latest)).Msg("Drained remaining items")
}

type checkpointKey struct {
	examID      string
	candidateID int
}

// latestPerSession keeps the newest checkpoint of each session in first-seen order.
// A single UPSERT statement cannot touch the same row twice.
func latestPerSession(batch []*model.Checkpoint) []*model.Checkpoint {
	index := make(map[checkpointKey]int, len(batch))
	out := make([]*model.Checkpoint, 0, len(batch))
	for _, cp := range batch {
		key := checkpointKey{examID: cp.ExamID.String(), candidateID: cp.CandidateID}
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, cp)
			continue
		}
		if !cp.Timestamp.Before(out[i].Timestamp) {
			out[i] = cp
		}
	}
	return out
}
