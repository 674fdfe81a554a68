package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/fsutil"
	"github.com/bnema/upsample-dispatch/internal/logging"
	"github.com/bnema/upsample-dispatch/internal/ports"
)

type HintAsset struct {
	Path       string
	Resolution domain.Resolution
	Frames     int
}

// HintGenerator writes downsampled copies of source videos. Output names are
// derived from the item id, target resolution and framing mode, so a
// repeated call reuses the earlier file instead of producing a second one.
type HintGenerator struct {
	media  ports.MediaTool
	dir    string
	logger *slog.Logger
}

func NewHintGenerator(media ports.MediaTool, dir string, logger *slog.Logger) *HintGenerator {
	return &HintGenerator{media: media, dir: dir, logger: logging.OrDiscard(logger)}
}

// HintPath names the hint for one item, target and framing mode; cropped
// and scaled hints of the same size never share a file.
func HintPath(dir, id string, target domain.Resolution, crop bool) string {
	mode := "scale"
	if crop {
		mode = "crop"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_hint_%s_%s.mp4", id, target, mode))
}

// Generate never touches spec.Source beyond reading it. With crop set the
// source is scaled to cover target and center-cropped; otherwise it is
// scaled to target directly.
func (g *HintGenerator) Generate(ctx context.Context, spec domain.PromptSpec, target domain.Resolution, crop bool) (HintAsset, error) {
	const op = "generate hint"

	if target.Degenerate() {
		return HintAsset{}, domain.NewError(domain.KindMediaProcessing, op, domain.ReasonDegenerate,
			fmt.Errorf("target resolution %s (id=%s)", target, spec.ID))
	}
	if err := checkReadable(spec.Source); err != nil {
		return HintAsset{}, domain.NewError(domain.KindMediaProcessing, op, domain.ReasonUnreadableSource, err)
	}

	path := HintPath(g.dir, spec.ID, target, crop)
	if asset, ok := g.reuse(ctx, path, target, spec.Frames); ok {
		g.logger.Debug("hint reused", "id", spec.ID, "path", path)
		return asset, nil
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return HintAsset{}, domain.NewError(domain.KindMediaProcessing, op, domain.ReasonTranscodeFailed, fmt.Errorf("create hint dir: %w", err))
	}

	partPath := path + ".part"
	_ = os.Remove(partPath)
	if err := g.media.Scale(ctx, ports.ScaleRequest{
		Source: spec.Source,
		Output: partPath,
		Target: target,
		Frames: spec.Frames,
		Crop:   crop,
	}); err != nil {
		_ = os.Remove(partPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return HintAsset{}, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return HintAsset{}, domain.NewError(domain.KindMediaProcessing, op, domain.ReasonTranscodeFailed, err)
	}

	info, err := g.media.Probe(ctx, partPath)
	if err != nil {
		_ = os.Remove(partPath)
		return HintAsset{}, domain.NewError(domain.KindMediaProcessing, op, domain.ReasonProbeFailed, err)
	}
	if info.Resolution != target {
		_ = os.Remove(partPath)
		return HintAsset{}, domain.NewError(domain.KindMediaProcessing, op, domain.ReasonTranscodeFailed,
			fmt.Errorf("hint came out %s, want %s", info.Resolution, target))
	}

	if err := os.Rename(partPath, path); err != nil {
		_ = os.Remove(partPath)
		return HintAsset{}, domain.NewError(domain.KindMediaProcessing, op, domain.ReasonTranscodeFailed, fmt.Errorf("commit hint: %w", err))
	}
	if err := fsutil.SyncDir(g.dir); err != nil {
		return HintAsset{}, domain.NewError(domain.KindMediaProcessing, op, domain.ReasonTranscodeFailed, err)
	}

	g.logger.Info("hint generated", "id", spec.ID, "resolution", target.String(), "path", path)
	return HintAsset{Path: path, Resolution: info.Resolution, Frames: framesOr(info.Frames, spec.Frames)}, nil
}

func (g *HintGenerator) reuse(ctx context.Context, path string, target domain.Resolution, frames int) (HintAsset, bool) {
	if _, err := os.Stat(path); err != nil {
		return HintAsset{}, false
	}
	info, err := g.media.Probe(ctx, path)
	if err != nil || info.Resolution != target {
		_ = os.Remove(path)
		return HintAsset{}, false
	}
	return HintAsset{Path: path, Resolution: info.Resolution, Frames: framesOr(info.Frames, frames)}, true
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return errors.New(path + " is empty")
	}
	return nil
}

func framesOr(probed, fallback int) int {
	if probed > 0 {
		return probed
	}
	return fallback
}
