package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Upper bounds for declared or probed media; nothing a video model accepts
// comes close.
const (
	MaxDimension = 16384
	MaxFrames    = 1_000_000
)

type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r Resolution) Pixels() int64 {
	if r.Degenerate() {
		return 0
	}

	return int64(r.Width) * int64(r.Height)
}

func (r Resolution) Degenerate() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Fits reports whether r is no larger than bound in both dimensions.
func (r Resolution) Fits(bound Resolution) bool {
	return r.Width <= bound.Width && r.Height <= bound.Height
}

func ParseResolution(raw string) (Resolution, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	w, h, ok := strings.Cut(trimmed, "x")
	if !ok {
		return Resolution{}, fmt.Errorf("invalid resolution %q (want WIDTHxHEIGHT)", raw)
	}

	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution width in %q: %w", raw, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution height in %q: %w", raw, err)
	}

	res := Resolution{Width: width, Height: height}
	if res.Degenerate() {
		return Resolution{}, fmt.Errorf("invalid resolution %q: width and height must be positive", raw)
	}

	return res, nil
}

// PromptSpec is one unit of batch work. State, LastError and TokenEstimate
// are owned by the orchestrator and only change through Transition and Fail.
type PromptSpec struct {
	ID            string
	Prompt        string
	Source        string
	Resolution    Resolution
	Frames        int
	State         ItemState
	LastError     error
	TokenEstimate int64
}

func (p PromptSpec) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if !identifierPattern.MatchString(p.ID) {
		return fmt.Errorf("invalid id %q: use letters, digits, '.', '_' or '-'", p.ID)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("prompt is required (id=%s)", p.ID)
	}
	if strings.TrimSpace(p.Source) == "" {
		return fmt.Errorf("source video is required (id=%s)", p.ID)
	}
	if p.Resolution.Width < 0 || p.Resolution.Height < 0 {
		return fmt.Errorf("resolution must not be negative (id=%s)", p.ID)
	}
	if p.Resolution.Width > MaxDimension || p.Resolution.Height > MaxDimension {
		return fmt.Errorf("resolution %s exceeds %dx%d (id=%s)", p.Resolution, MaxDimension, MaxDimension, p.ID)
	}
	if p.Frames < 0 {
		return fmt.Errorf("frames must not be negative (id=%s)", p.ID)
	}
	if p.Frames > MaxFrames {
		return fmt.Errorf("frames %d exceeds %d (id=%s)", p.Frames, MaxFrames, p.ID)
	}

	return nil
}

// NeedsProbe reports whether resolution or frame count must be read from the
// source media before the item can be estimated.
func (p PromptSpec) NeedsProbe() bool {
	return p.Resolution.Degenerate() || p.Frames <= 0
}

func ValidateBatch(specs []PromptSpec) error {
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return NewError(KindValidation, "validate batch", ReasonInvalidInput, fmt.Errorf("item %d: %w", i+1, err))
		}
		if _, ok := seen[spec.ID]; ok {
			return NewError(KindValidation, "validate batch", ReasonInvalidInput, fmt.Errorf("duplicate id %q", spec.ID))
		}
		seen[spec.ID] = struct{}{}
	}

	return nil
}
