package ports

import (
	"context"

	"github.com/bnema/upsample-dispatch/internal/domain"
)

type MediaInfo struct {
	Resolution domain.Resolution
	Frames     int
}

type ScaleRequest struct {
	Source string
	Output string
	Target domain.Resolution
	Frames int
	// Crop fills Target and center-crops the overflow instead of letterboxing.
	Crop bool
}

type MediaTool interface {
	Probe(ctx context.Context, path string) (MediaInfo, error)
	Scale(ctx context.Context, req ScaleRequest) error
}
