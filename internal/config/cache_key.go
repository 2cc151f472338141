package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPayloadKey returns the cache key for an exam's student-facing content.
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel carrying live
// reconciliation events for proctors.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// ExamSignalChannel returns the Redis PubSub channel that carries signaling
// messages of one exam room between server instances.
func (r *CacheKeyStruct) ExamSignalChannel(examID string) string {
	return fmt.Sprintf("exam:%s:signal", examID)
}

var CacheKey = NewCacheKeyStruct()
