package batchfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/upsample-dispatch/internal/domain"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const currentSchemaVersion = 1

type fileSchema struct {
	Version int            `toml:"version" yaml:"version"`
	Prompts []promptSchema `toml:"prompts" yaml:"prompts"`
}

type promptSchema struct {
	ID     string `toml:"id" yaml:"id"`
	Prompt string `toml:"prompt" yaml:"prompt"`
	Video  string `toml:"video" yaml:"video"`
	Width  int    `toml:"width,omitempty" yaml:"width,omitempty"`
	Height int    `toml:"height,omitempty" yaml:"height,omitempty"`
	Frames int    `toml:"frames,omitempty" yaml:"frames,omitempty"`
}

// Load decodes a batch file (.toml, .yaml or .yml) in declaration order.
// Relative video paths are resolved against the batch file's directory.
func Load(path string) ([]domain.PromptSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "read batch", domain.ReasonInvalidInput, err)
	}

	var file fileSchema
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&file)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&file)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		err = fmt.Errorf("unsupported batch file extension %q (want .toml, .yaml or .yml)", ext)
	}
	if err != nil {
		return nil, domain.NewError(domain.KindValidation, "decode batch", domain.ReasonInvalidInput, fmt.Errorf("%s: %w", path, err))
	}
	if file.Version > currentSchemaVersion {
		return nil, domain.NewError(domain.KindValidation, "decode batch", domain.ReasonInvalidInput,
			fmt.Errorf("unsupported batch schema version %d (current %d)", file.Version, currentSchemaVersion))
	}
	if len(file.Prompts) == 0 {
		return nil, domain.NewError(domain.KindValidation, "decode batch", domain.ReasonInvalidInput, fmt.Errorf("%s: no prompts", path))
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve batch directory: %w", err)
	}

	specs := make([]domain.PromptSpec, 0, len(file.Prompts))
	for _, p := range file.Prompts {
		video := strings.TrimSpace(p.Video)
		if video != "" && !filepath.IsAbs(video) {
			video = filepath.Join(baseDir, video)
		}
		specs = append(specs, domain.PromptSpec{
			ID:         strings.TrimSpace(p.ID),
			Prompt:     p.Prompt,
			Source:     video,
			Resolution: domain.Resolution{Width: p.Width, Height: p.Height},
			Frames:     p.Frames,
		})
	}

	if err := domain.ValidateBatch(specs); err != nil {
		return nil, err
	}

	return specs, nil
}
