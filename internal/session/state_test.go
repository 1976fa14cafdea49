package session

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats_PartitionsEveryCoordinate(t *testing.T) {
	exam, _ := newExam(1800, sec(600, 3), sec(900, 2))
	st := newState(exam)

	require.NoError(t, st.SetAnswer(coord(0, 0), "A"))
	require.NoError(t, st.SetAnswer(coord(0, 1), "B"))
	require.NoError(t, st.SetAnswer(coord(1, 0), "C"))
	_, err := st.ToggleReviewMark(coord(0, 1))
	require.NoError(t, err)
	_, err = st.ToggleReviewMark(coord(0, 2))
	require.NoError(t, err)

	stats := st.ComputeStats()
	assert.Equal(t, 2, stats.Answered)
	assert.Equal(t, 1, stats.AnsweredMarked)
	assert.Equal(t, 1, stats.Marked)
	assert.Equal(t, 1, stats.NotVisited)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, stats.Total, stats.Answered+stats.AnsweredMarked+stats.Marked+stats.NotVisited)
}

func TestComputeStats_CursorIsNotABucket(t *testing.T) {
	exam, _ := newExam(1800, sec(600, 4))
	st := newState(exam)
	st.Session().CurrentQuestionIndex = 2

	stats := st.ComputeStats()
	assert.Equal(t, 4, stats.NotVisited)
	assert.Equal(t, 4, stats.Total)
}

func TestStateStore_RejectsUndeclaredCoordinates(t *testing.T) {
	exam, _ := newExam(1800, sec(600, 2), sec(600, 1))
	st := newState(exam)

	for _, c := range []model.Coordinate{coord(0, 2), coord(1, 1), coord(2, 0), {Section: -1}} {
		assert.ErrorIs(t, st.SetAnswer(c, "A"), ErrInvalidCoordinate, c.String())
		assert.ErrorIs(t, st.ClearAnswer(c), ErrInvalidCoordinate, c.String())
		_, err := st.ToggleReviewMark(c)
		assert.ErrorIs(t, err, ErrInvalidCoordinate, c.String())
	}
	assert.Empty(t, st.Session().Answers)
}

func TestStateStore_SetAndClearAnswer(t *testing.T) {
	exam, _ := newExam(1800, sec(600, 2))
	st := newState(exam)

	require.NoError(t, st.SetAnswer(coord(0, 1), "A"))
	require.NoError(t, st.SetAnswer(coord(0, 1), "D"))
	assert.Equal(t, "D", st.Session().Answers[coord(0, 1)])

	require.NoError(t, st.ClearAnswer(coord(0, 1)))
	require.NoError(t, st.ClearAnswer(coord(0, 1)))
	assert.NotContains(t, st.Session().Answers, coord(0, 1))
}

func TestStateStore_ToggleReviewMark(t *testing.T) {
	exam, _ := newExam(1800, sec(600, 2))
	st := newState(exam)

	on, err := st.ToggleReviewMark(coord(0, 0))
	require.NoError(t, err)
	assert.True(t, on)

	on, err = st.ToggleReviewMark(coord(0, 0))
	require.NoError(t, err)
	assert.False(t, on)
	assert.Empty(t, st.Session().MarkedForReview)
}

func TestStateStore_WritableOnlyInProgress(t *testing.T) {
	exam, _ := newExam(1800, sec(600, 2))

	tests := []struct {
		status model.SessionStatus
		want   error
	}{
		{model.SessionStatusPaused, ErrSessionPaused},
		{model.SessionStatusSubmitting, ErrSessionClosed},
		{model.SessionStatusSubmitted, ErrSessionClosed},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			st := newState(exam)
			require.NoError(t, st.SetAnswer(coord(0, 0), "A"))
			st.setStatus(tt.status)

			assert.ErrorIs(t, st.SetAnswer(coord(0, 0), "B"), tt.want)
			assert.ErrorIs(t, st.ClearAnswer(coord(0, 0)), tt.want)
			_, err := st.ToggleReviewMark(coord(0, 1))
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "A", st.Session().Answers[coord(0, 0)])
		})
	}
}

func TestStateStore_SnapshotIsDetached(t *testing.T) {
	exam, _ := newExam(1800, sec(600, 3))
	st := newState(exam)
	require.NoError(t, st.SetAnswer(coord(0, 0), "A"))

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	cp := st.Snapshot(now)
	require.NoError(t, st.SetAnswer(coord(0, 0), "B"))

	assert.Equal(t, "A", cp.Answers[coord(0, 0)])
	assert.Equal(t, model.CheckpointVersion, cp.Version)
	assert.Equal(t, time.UTC, cp.Timestamp.Location())
	assert.True(t, cp.Timestamp.Equal(now))
}
