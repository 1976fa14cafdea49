package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CheckpointKey returns the local checkpoint key for a candidate's attempt at an exam
func (r *CacheKeyStruct) CheckpointKey(examID string, candidateID int) string {
	return fmt.Sprintf("student:%d:exam-progress-%s", candidateID, examID)
}

// CheckpointPattern matches every local checkpoint key
func (r *CacheKeyStruct) CheckpointPattern() string {
	return "student:*:exam-progress-*"
}

// ParseCheckpointKey splits a checkpoint key back into its exam and candidate.
func (r *CacheKeyStruct) ParseCheckpointKey(key string) (uuid.UUID, int, error) {
	rest, ok := strings.CutPrefix(key, "student:")
	if !ok {
		return uuid.Nil, 0, fmt.Errorf("not a checkpoint key: %q", key)
	}
	cand, exam, ok := strings.Cut(rest, ":exam-progress-")
	if !ok {
		return uuid.Nil, 0, fmt.Errorf("not a checkpoint key: %q", key)
	}
	candidateID, err := strconv.Atoi(cand)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("checkpoint key candidate: %w", err)
	}
	examID, err := uuid.Parse(exam)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("checkpoint key exam: %w", err)
	}
	return examID, candidateID, nil
}

// ExamPayloadKey returns the cache key for an exam's definition and questions
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// SessionEventsChannel returns the Redis PubSub channel for a candidate's session events
func (r *CacheKeyStruct) SessionEventsChannel(examID string, candidateID int) string {
	return fmt.Sprintf("student:%d:exam:%s:events", candidateID, examID)
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

var CacheKey = NewCacheKeyStruct()
