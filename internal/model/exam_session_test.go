package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		in      string
		want    Coordinate
		wantErr bool
	}{
		{in: "0:0", want: Coordinate{0, 0}},
		{in: "2:14", want: Coordinate{2, 14}},
		{in: "3", wantErr: true},
		{in: "a:1", wantErr: true},
		{in: "1:-2", wantErr: true},
		{in: "-1:0", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCoordinate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoordinateKeysJSONMaps(t *testing.T) {
	answers := map[Coordinate]string{{1, 2}: "B", {0, 0}: "A"}

	raw, err := json.Marshal(answers)
	require.NoError(t, err)
	assert.JSONEq(t, `{"0:0":"A","1:2":"B"}`, string(raw))

	var back map[Coordinate]string
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, answers, back)
}

func TestSortCoordinatesSectionMajor(t *testing.T) {
	cs := []Coordinate{{1, 0}, {0, 5}, {0, 1}, {2, 0}}
	SortCoordinates(cs)
	assert.Equal(t, []Coordinate{{0, 1}, {0, 5}, {1, 0}, {2, 0}}, cs)
}

func TestExamTakeable(t *testing.T) {
	for status, want := range map[ExamStatus]bool{
		ExamStatusDraft:      false,
		ExamStatusPublished:  true,
		ExamStatusInProgress: true,
		ExamStatusCompleted:  false,
		ExamStatusArchived:   false,
	} {
		e := Exam{Status: status}
		assert.Equal(t, want, e.Takeable(), status)
	}
}
