package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

// LocalStore is the durable store recovery reads from. Load returns nil, nil
// when no checkpoint exists.
type LocalStore interface {
	Load(ctx context.Context, examID uuid.UUID, candidateID int) ([]byte, error)
	Save(ctx context.Context, examID uuid.UUID, candidateID int, data []byte) error
	Delete(ctx context.Context, examID uuid.UUID, candidateID int) error
}

// RemoteStore receives a copy of every checkpoint. It is never read during recovery.
type RemoteStore interface {
	PersistCheckpoint(ctx context.Context, cp *model.Checkpoint) error
}

// Checkpointer snapshots session state to the local store and forwards it remotely.
type Checkpointer struct {
	state         *StateStore
	local         LocalStore
	remote        RemoteStore
	handle        *timerHandle
	now           func() time.Time
	remoteTimeout time.Duration
	notify        func(model.EventType, map[string]any)
	log           zerolog.Logger
	inflight      sync.WaitGroup
}

// NewCheckpointer creates a Checkpointer with a disarmed interval timer.
func NewCheckpointer(state *StateStore, local LocalStore, remote RemoteStore, factory TickerFactory, p Policy, now func() time.Time, log zerolog.Logger) *Checkpointer {
	p = p.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Checkpointer{
		state:         state,
		local:         local,
		remote:        remote,
		handle:        newTimerHandle(factory, p.CheckpointInterval),
		now:           now,
		remoteTimeout: p.RemoteTimeout,
		log:           log,
	}
}

// Start arms the periodic checkpoint timer.
func (c *Checkpointer) Start() { c.handle.arm() }

// Stop disarms the periodic checkpoint timer.
func (c *Checkpointer) Stop() { c.handle.disarm() }

// C is the interval channel, nil when disarmed.
func (c *Checkpointer) C() <-chan time.Time { return c.handle.C() }

// Snapshot captures and seals the current state.
func (c *Checkpointer) Snapshot() (*model.Checkpoint, error) {
	cp := c.state.Snapshot(c.now())
	if err := cp.Seal(); err != nil {
		return nil, err
	}
	return cp, nil
}

// Persist writes the snapshot to the local store synchronously, then forwards it
// to the remote store without waiting. A remote failure is reported only.
func (c *Checkpointer) Persist(ctx context.Context) (*model.Checkpoint, error) {
	cp, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	s := c.state.Session()
	if err := c.local.Save(ctx, s.ExamID, s.CandidateID, data); err != nil {
		return nil, &TransientNetworkError{Op: "save local checkpoint", Err: err}
	}
	at := cp.Timestamp
	s.LastCheckpointAt = &at

	if c.remote != nil {
		c.inflight.Add(1)
		go c.forward(cp)
	}
	return cp, nil
}

func (c *Checkpointer) forward(cp *model.Checkpoint) {
	defer c.inflight.Done()
	ctx, cancel := context.WithTimeout(context.Background(), c.remoteTimeout)
	defer cancel()

	if err := c.remote.PersistCheckpoint(ctx, cp); err != nil {
		c.log.Warn().Err(err).Msg("Remote checkpoint failed")
		if c.notify != nil {
			c.notify(model.EventCheckpointRemoteFailed, map[string]any{"error": err.Error()})
		}
	}
}
