package cmd

import (
	"time"

	"github.com/bnema/upsample-dispatch/internal/application"
	"github.com/bnema/upsample-dispatch/internal/domain"
)

type batchJSON struct {
	RunID       string        `json:"run_id"`
	Completed   []outcomeJSON `json:"completed"`
	Failed      []outcomeJSON `json:"failed"`
	Skipped     []string      `json:"skipped"`
	Unprocessed []string      `json:"unprocessed"`
}

type outcomeJSON struct {
	ID          string     `json:"id"`
	State       string     `json:"state"`
	ResultRef   string     `json:"result_ref,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Message     string     `json:"message,omitempty"`
	Tokens      int64      `json:"tokens,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Resumed     bool       `json:"resumed,omitempty"`
}

type estimateJSON struct {
	ID           string `json:"id"`
	Source       string `json:"source,omitempty"`
	Frames       int    `json:"frames,omitempty"`
	Action       string `json:"action,omitempty"`
	Tokens       int64  `json:"tokens,omitempty"`
	Target       string `json:"target,omitempty"`
	TargetTokens int64  `json:"target_tokens,omitempty"`
	Feasible     bool   `json:"feasible"`
	Error        string `json:"error,omitempty"`
}

type recordJSON struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
	ResultRef   string    `json:"result_ref,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
}

func newBatchJSON(result domain.BatchResult) batchJSON {
	out := batchJSON{
		RunID:       result.RunID,
		Completed:   make([]outcomeJSON, 0, len(result.Completed)),
		Failed:      make([]outcomeJSON, 0, len(result.Failed)),
		Skipped:     nonNil(result.Skipped),
		Unprocessed: nonNil(result.Unprocessed),
	}
	for _, outcome := range result.Completed {
		out.Completed = append(out.Completed, newOutcomeJSON(outcome))
	}
	for _, outcome := range result.Failed {
		out.Failed = append(out.Failed, newOutcomeJSON(outcome))
	}
	return out
}

func newOutcomeJSON(outcome domain.ItemOutcome) outcomeJSON {
	out := outcomeJSON{
		ID:        outcome.ID,
		State:     string(outcome.State),
		ResultRef: outcome.ResultRef,
		ErrorKind: string(outcome.ErrorKind),
		Reason:    outcome.Reason,
		Message:   outcome.Message,
		Tokens:    outcome.Tokens,
		Resumed:   outcome.Resumed,
	}
	if !outcome.CompletedAt.IsZero() {
		at := outcome.CompletedAt.UTC()
		out.CompletedAt = &at
	}
	return out
}

func newEstimateJSON(row application.EstimateRow) estimateJSON {
	if row.Err != nil {
		return estimateJSON{ID: row.ID, Error: row.Err.Error()}
	}

	d := row.Decision
	return estimateJSON{
		ID:           row.ID,
		Source:       row.Source.String(),
		Frames:       row.Frames,
		Action:       string(d.Action),
		Tokens:       d.Estimate,
		Target:       d.Target.String(),
		TargetTokens: d.TargetEstimate,
		Feasible:     row.Feasible,
	}
}

func newRecordJSON(record domain.CheckpointRecord) recordJSON {
	return recordJSON{
		ID:          record.ID,
		Status:      string(record.Status),
		CompletedAt: record.CompletedAt.UTC(),
		ResultRef:   record.ResultRef,
		ErrorKind:   string(record.ErrorKind),
		Reason:      record.Reason,
		Message:     record.Message,
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
