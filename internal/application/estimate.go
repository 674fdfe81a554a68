package application

import (
	"context"
	"fmt"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/ports"
)

type EstimateRow struct {
	ID       string
	Source   domain.Resolution
	Frames   int
	Decision domain.Decision
	Feasible bool
	Err      error
}

// EstimateBatch computes the budget decision for every item without
// touching the remote host. media may be nil when every item carries its
// resolution and frame count.
func EstimateBatch(ctx context.Context, budget domain.TokenBudget, media ports.MediaTool, specs []domain.PromptSpec) ([]EstimateRow, error) {
	if err := domain.ValidateBatch(specs); err != nil {
		return nil, err
	}

	rows := make([]EstimateRow, 0, len(specs))
	for _, spec := range specs {
		row := EstimateRow{ID: spec.ID}
		if spec.NeedsProbe() {
			if err := probeInto(ctx, media, &spec); err != nil {
				row.Err = err
				rows = append(rows, row)
				continue
			}
		}

		row.Source = spec.Resolution
		row.Frames = spec.Frames
		row.Decision = budget.Decide(spec)
		row.Feasible = budget.Feasible(row.Decision)
		rows = append(rows, row)
	}

	return rows, nil
}

func probeInto(ctx context.Context, media ports.MediaTool, spec *domain.PromptSpec) error {
	if media == nil {
		return domain.NewError(domain.KindValidation, "estimate", domain.ReasonInvalidInput,
			fmt.Errorf("resolution and frames are required for %s", spec.ID))
	}

	info, err := media.Probe(ctx, spec.Source)
	if err != nil {
		return domain.NewError(domain.KindMediaProcessing, "probe source", domain.ReasonProbeFailed, err)
	}
	if spec.Resolution.Degenerate() {
		spec.Resolution = info.Resolution
	}
	if spec.Frames <= 0 {
		spec.Frames = info.Frames
	}
	if spec.NeedsProbe() {
		return domain.NewError(domain.KindValidation, "probe source", domain.ReasonInvalidInput,
			fmt.Errorf("cannot determine resolution and frame count of %s", spec.Source))
	}
	if err := spec.Validate(); err != nil {
		return domain.NewError(domain.KindValidation, "probe source", domain.ReasonInvalidInput, err)
	}
	return nil
}
