package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Remote stderr ends up in Message, so it is bounded and forced to valid
// UTF-8 before any store encodes it.
const maxMessageBytes = 1200

type RecordStatus string

const (
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// CheckpointRecord is the durable, write-once outcome of one batch item.
type CheckpointRecord struct {
	ID          string
	CompletedAt time.Time
	Status      RecordStatus
	ResultRef   string
	ErrorKind   ErrorKind
	Reason      string
	Message     string
}

func NewCompletedRecord(id string, at time.Time, resultRef string) CheckpointRecord {
	return CheckpointRecord{
		ID:          id,
		CompletedAt: at.UTC(),
		Status:      RecordCompleted,
		ResultRef:   resultRef,
	}
}

func NewFailedRecord(id string, at time.Time, cause error) CheckpointRecord {
	record := CheckpointRecord{
		ID:          id,
		CompletedAt: at.UTC(),
		Status:      RecordFailed,
	}
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	if kind, ok := KindOf(cause); ok {
		record.ErrorKind = kind
	}
	record.Reason = ReasonOf(cause)
	record.Message = truncate(strings.ToValidUTF8(cause.Error(), "\uFFFD"), maxMessageBytes)
	return record
}

func (r CheckpointRecord) Succeeded() bool {
	return r.Status == RecordCompleted
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
