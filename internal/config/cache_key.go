package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// AttemptAnswersKey returns the cache key for an attempt's live answer hash
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptStartKey returns the cache key for an attempt's start timestamp
func (r *CacheKeyStruct) AttemptStartKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:started_at", attemptID)
}

// ExamPayloadKey returns the cache key for an exam's student payload
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAnswerKey returns the cache key for an exam's answer key hash
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamDurationKey returns the cache key for an exam's duration
func (r *CacheKeyStruct) ExamDurationKey(examID string) string {
	return fmt.Sprintf("exam:%s:duration", examID)
}

// ExamAntiCheatKey returns the cache key for an exam's anti-cheat rules
func (r *CacheKeyStruct) ExamAntiCheatKey(examID string) string {
	return fmt.Sprintf("exam:%s:anticheat", examID)
}

// InstructorEventsChannel returns the Pub/Sub channel broadcast to every
// connected instructor
func (r *CacheKeyStruct) InstructorEventsChannel() string {
	return "proktor:events:instructors"
}

// ExamEventsChannel returns the Pub/Sub channel scoped to one exam
func (r *CacheKeyStruct) ExamEventsChannel(examID string) string {
	return fmt.Sprintf("proktor:events:exam:%s", examID)
}

// AttemptEventsChannel returns the Pub/Sub channel scoped to one attempt
func (r *CacheKeyStruct) AttemptEventsChannel(attemptID string) string {
	return fmt.Sprintf("proktor:events:attempt:%s", attemptID)
}

var CacheKey = NewCacheKeyStruct()
