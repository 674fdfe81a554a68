package report

import (
	"errors"
	"testing"
	"time"

	"github.com/bnema/upsample-dispatch/internal/application"
	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBatchResult(t *testing.T) {
	output, err := RenderBatch(domain.BatchResult{
		RunID: "0192f3c8-1111-7000-8000-000000000001",
		Completed: []domain.ItemOutcome{
			{ID: "clip-1", State: domain.StateCompleted, ResultRef: "/results/clip-1", Tokens: 1993},
			{ID: "clip-2", State: domain.StateCompleted, ResultRef: "/results/clip-2", Resumed: true},
		},
		Failed: []domain.ItemOutcome{
			{
				ID:        "clip-3",
				State:     domain.StateFailed,
				ErrorKind: domain.KindRemoteExecution,
				Reason:    domain.ReasonNonZeroExit,
				Message:   "execute: remote execution error (non-zero-exit) [exit=1] stderr: CUDA out of memory",
			},
		},
		Skipped:     []string{"clip-2"},
		Unprocessed: []string{"clip-4"},
	})

	require.NoError(t, err)
	assert.Contains(t, output, "Batch 0192f3c8-1111-7000-8000-000000000001")
	assert.Contains(t, output, "items: 4  completed: 2  failed: 1  skipped: 1  unprocessed: 1")
	assert.Contains(t, output, " 75% done")
	assert.Contains(t, output, "clip-1 1993 tokens -> /results/clip-1")
	assert.Contains(t, output, "clip-2 -> /results/clip-2 (resumed)")
	assert.Contains(t, output, "clip-3 remote_execution: non-zero-exit")
	assert.Contains(t, output, "CUDA out of memory")
	assert.Contains(t, output, "Unprocessed")
	assert.Contains(t, output, "clip-4")
}

func TestRenderEmptyBatch(t *testing.T) {
	output, err := RenderBatch(domain.BatchResult{RunID: "run-1"})

	require.NoError(t, err)
	assert.Contains(t, output, "items: 0")
	assert.Contains(t, output, "No items in batch.")
}

func TestRenderEstimates(t *testing.T) {
	budget := domain.TokenBudget{MaxTokens: 4096, TokenFactor: 0.0173, Policy: domain.PolicyPreset}
	output, err := RenderEstimates([]application.EstimateRow{
		{
			ID:     "big",
			Source: domain.Resolution{Width: 1280, Height: 720},
			Frames: 2,
			Decision: domain.Decision{
				Action:         domain.ActionDownsample,
				Target:         domain.Resolution{Width: 320, Height: 180},
				Estimate:       31887,
				TargetEstimate: 1993,
			},
			Feasible: true,
		},
		{ID: "unknown", Err: errors.New("resolution and frames are required for unknown")},
	}, budget)

	require.NoError(t, err)
	assert.Contains(t, output, "budget: 4096 tokens  k: 0.0173  policy: preset  items: 2")
	assert.Contains(t, output, "1280x720")
	assert.Contains(t, output, "31887")
	assert.Contains(t, output, "downsample")
	assert.Contains(t, output, "320x180")
	assert.Contains(t, output, "1993")
	assert.Contains(t, output, "ok")
	assert.Contains(t, output, "resolution and frames are required")
}

func TestRenderRecords(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	output, err := RenderRecords("/state/checkpoint.toml", []domain.CheckpointRecord{
		domain.NewCompletedRecord("clip-1", at, "/results/clip-1"),
		{ID: "clip-2", CompletedAt: at, Status: domain.RecordFailed, ErrorKind: domain.KindRemoteExecution, Reason: domain.ReasonTimeout},
	})

	require.NoError(t, err)
	assert.Contains(t, output, "Checkpoint /state/checkpoint.toml")
	assert.Contains(t, output, "records: 2  completed: 1  failed: 1")
	assert.Contains(t, output, "2026-10-19 09:30:00  clip-1 completed -> /results/clip-1")
	assert.Contains(t, output, "clip-2 failed remote_execution timeout")
}

func TestRenderProgressBarBounds(t *testing.T) {
	s := newStyles()

	assert.Equal(t, "[----]", renderProgressBar(-10, 4, s))
	assert.Equal(t, "[==--]", renderProgressBar(50, 4, s))
	assert.Equal(t, "[====]", renderProgressBar(250, 4, s))
	assert.Empty(t, renderProgressBar(50, 0, s))
}

func TestInterpolateColor(t *testing.T) {
	assert.Equal(t, "240", string(interpolateColor(0, 0, 100)))
	assert.Equal(t, "255", string(interpolateColor(100, 0, 100)))
	assert.Equal(t, "255", string(interpolateColor(5, 5, 5)))
}
