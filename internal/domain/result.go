package domain

import "time"

type ItemOutcome struct {
	ID          string
	State       ItemState
	ResultRef   string
	ErrorKind   ErrorKind
	Reason      string
	Message     string
	Tokens      int64
	CompletedAt time.Time
	// Resumed is set when the outcome was loaded from an earlier pass.
	Resumed bool
}

// BatchResult enumerates every input item exactly once across Completed,
// Failed and Unprocessed. Skipped lists the identifiers whose outcome came
// from the checkpoint instead of this pass.
type BatchResult struct {
	RunID       string
	Completed   []ItemOutcome
	Failed      []ItemOutcome
	Skipped     []string
	Unprocessed []string
}

func (r BatchResult) Total() int {
	return len(r.Completed) + len(r.Failed) + len(r.Unprocessed)
}

func OutcomeFromRecord(record CheckpointRecord) ItemOutcome {
	state := StateCompleted
	if !record.Succeeded() {
		state = StateFailed
	}

	return ItemOutcome{
		ID:          record.ID,
		State:       state,
		ResultRef:   record.ResultRef,
		ErrorKind:   record.ErrorKind,
		Reason:      record.Reason,
		Message:     record.Message,
		CompletedAt: record.CompletedAt,
	}
}
