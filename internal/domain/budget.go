package domain

import (
	"fmt"
	"math"
	"sort"
)

type DownsamplePolicy string

const (
	// PolicyPreset picks the largest configured preset that fits; sources
	// with a different aspect ratio are center-cropped to the preset.
	PolicyPreset DownsamplePolicy = "preset"
	// PolicyPreserveAspect keeps the source aspect ratio exactly.
	PolicyPreserveAspect DownsamplePolicy = "preserve-aspect"
)

type Verdict string

const (
	VerdictOK       Verdict = "ok"
	VerdictExceeded Verdict = "exceeded"
)

type Action string

const (
	ActionProceed    Action = "proceed"
	ActionDownsample Action = "downsample"
)

const defaultAlignment = 2

// TokenBudget is read-only for the duration of a batch run; all methods are
// pure and safe for concurrent use.
type TokenBudget struct {
	MaxTokens   int64
	TokenFactor float64
	Policy      DownsamplePolicy
	Presets     []Resolution
	SafeDefault Resolution
	Alignment   int
}

type Decision struct {
	Action         Action
	Source         Resolution
	Target         Resolution
	Frames         int
	Estimate       int64
	TargetEstimate int64
}

func (b TokenBudget) CheckConfig() error {
	if b.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", b.MaxTokens)
	}
	if b.TokenFactor <= 0 || math.IsNaN(b.TokenFactor) || math.IsInf(b.TokenFactor, 0) {
		return fmt.Errorf("token factor must be a positive number, got %v", b.TokenFactor)
	}
	switch b.Policy {
	case PolicyPreset, PolicyPreserveAspect:
	default:
		return fmt.Errorf("unsupported downsample policy %q", b.Policy)
	}
	for _, preset := range b.Presets {
		if preset.Degenerate() {
			return fmt.Errorf("invalid preset %s", preset)
		}
	}
	if b.SafeDefault.Degenerate() {
		return fmt.Errorf("safe default resolution is required")
	}
	if b.Alignment < 0 {
		return fmt.Errorf("alignment must not be negative, got %d", b.Alignment)
	}

	return nil
}

// Estimate returns round(width * height * frames * k), saturating at
// math.MaxInt64 so oversized inputs always exceed the budget.
func (b TokenBudget) Estimate(res Resolution, frames int) int64 {
	if res.Degenerate() || frames <= 0 || b.TokenFactor <= 0 {
		return 0
	}

	v := math.Round(float64(res.Width) * float64(res.Height) * float64(frames) * b.TokenFactor)
	if math.IsNaN(v) || v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func (b TokenBudget) Validate(tokens int64) Verdict {
	if tokens <= b.MaxTokens {
		return VerdictOK
	}
	return VerdictExceeded
}

func (b TokenBudget) Decide(spec PromptSpec) Decision {
	estimate := b.Estimate(spec.Resolution, spec.Frames)
	decision := Decision{
		Action:         ActionProceed,
		Source:         spec.Resolution,
		Target:         spec.Resolution,
		Frames:         spec.Frames,
		Estimate:       estimate,
		TargetEstimate: estimate,
	}
	if b.Validate(estimate) == VerdictOK {
		return decision
	}

	decision.Action = ActionDownsample
	decision.Target = b.downsampleTarget(spec.Resolution, spec.Frames)
	decision.TargetEstimate = b.Estimate(decision.Target, spec.Frames)
	return decision
}

// Feasible reports whether the decision can be dispatched within budget.
func (b TokenBudget) Feasible(d Decision) bool {
	if d.Target.Degenerate() {
		return false
	}
	return b.Validate(d.TargetEstimate) == VerdictOK
}

func (b TokenBudget) downsampleTarget(src Resolution, frames int) Resolution {
	var (
		target Resolution
		ok     bool
	)
	switch b.Policy {
	case PolicyPreserveAspect:
		target, ok = b.fitAspect(src, frames)
	default:
		target, ok = b.fitPreset(src, frames)
	}
	if ok {
		return target
	}

	return b.SafeDefault
}

func (b TokenBudget) fitPreset(src Resolution, frames int) (Resolution, bool) {
	presets := append([]Resolution(nil), b.Presets...)
	sort.SliceStable(presets, func(i, j int) bool {
		return presets[i].Pixels() > presets[j].Pixels()
	})

	for _, preset := range presets {
		if !preset.Fits(src) {
			continue
		}
		if b.Validate(b.Estimate(preset, frames)) == VerdictOK {
			return preset, true
		}
	}

	return Resolution{}, false
}

func (b TokenBudget) fitAspect(src Resolution, frames int) (Resolution, bool) {
	if src.Degenerate() || frames <= 0 {
		return Resolution{}, false
	}

	align := b.Alignment
	if align <= 0 {
		align = defaultAlignment
	}

	maxPixels := float64(b.MaxTokens) / (float64(frames) * b.TokenFactor)
	scale := math.Min(1, math.Sqrt(maxPixels/float64(src.Pixels())))

	for w := alignDown(int(math.Floor(float64(src.Width)*scale)), align); w >= align; w -= align {
		h := alignDown(int(math.Round(float64(w)*float64(src.Height)/float64(src.Width))), align)
		if h < align {
			continue
		}
		candidate := Resolution{Width: w, Height: h}
		if b.Validate(b.Estimate(candidate, frames)) == VerdictOK {
			return candidate, true
		}
	}

	return Resolution{}, false
}

func alignDown(v, align int) int {
	if align <= 1 {
		return v
	}
	return v - v%align
}
