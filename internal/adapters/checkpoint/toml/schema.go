package toml

import (
	"fmt"
	"time"

	"github.com/bnema/upsample-dispatch/internal/domain"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version int            `toml:"version"`
	Records []recordSchema `toml:"records"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported checkpoint schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type recordSchema struct {
	ID          string `toml:"id"`
	Status      string `toml:"status"`
	CompletedAt string `toml:"completed_at"`
	ResultRef   string `toml:"result_ref,omitempty"`
	ErrorKind   string `toml:"error_kind,omitempty"`
	Reason      string `toml:"reason,omitempty"`
	Message     string `toml:"message,omitempty"`
}

func toSchema(record domain.CheckpointRecord) recordSchema {
	return recordSchema{
		ID:          record.ID,
		Status:      string(record.Status),
		CompletedAt: formatTime(record.CompletedAt),
		ResultRef:   record.ResultRef,
		ErrorKind:   string(record.ErrorKind),
		Reason:      record.Reason,
		Message:     record.Message,
	}
}

func fromSchema(record recordSchema) domain.CheckpointRecord {
	return domain.CheckpointRecord{
		ID:          record.ID,
		Status:      domain.RecordStatus(record.Status),
		CompletedAt: parseTime(record.CompletedAt),
		ResultRef:   record.ResultRef,
		ErrorKind:   domain.ErrorKind(record.ErrorKind),
		Reason:      record.Reason,
		Message:     record.Message,
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}
