package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestUpsertCheckpoints_SkipsSubmittedSessions(t *testing.T) {
	sql := strings.Join(strings.Fields(upsertCheckpointsSQL), " ")

	assert.Contains(t, sql, "WHERE NOT EXISTS ( SELECT 1 FROM exam_sessions s")
	assert.Contains(t, sql, "AND s.status = '"+string(model.SessionStatusSubmitted)+"'")
	assert.Less(t, strings.Index(sql, "NOT EXISTS"), strings.Index(sql, "ON CONFLICT"),
		"the submitted guard must filter rows before the conflict update")
	assert.Contains(t, sql, "WHERE exam_checkpoints.checkpoint_at <= EXCLUDED.checkpoint_at")
}

func TestUpsertCheckpoints_LocksSessionRecords(t *testing.T) {
	sql := strings.Join(strings.Fields(lockSessionsSQL), " ")

	assert.Contains(t, sql, "FROM exam_sessions s")
	assert.Contains(t, sql, "ORDER BY s.id")
	assert.True(t, strings.HasSuffix(sql, "FOR SHARE OF s"))
}

func TestUpsertMany_EmptyBatch(t *testing.T) {
	r := NewCheckpointRepository(nil)
	assert.NoError(t, r.UpsertMany(context.Background(), nil))
}
