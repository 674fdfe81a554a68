package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bnema/upsample-dispatch/internal/domain"
	"github.com/bnema/upsample-dispatch/internal/ports"
)

var ErrUnavailable = errors.New("ffmpeg tooling unavailable")

type runFunc func(ctx context.Context, name string, args ...string) (stdout string, stderr string, err error)

// Tool probes and scales media with the ffprobe and ffmpeg binaries.
type Tool struct {
	run     runFunc
	ffprobe string
	ffmpeg  string
}

var _ ports.MediaTool = (*Tool)(nil)

func New() *Tool {
	return &Tool{run: runCommand, ffprobe: "ffprobe", ffmpeg: "ffmpeg"}
}

func (t *Tool) Probe(ctx context.Context, path string) (ports.MediaInfo, error) {
	stdout, stderr, err := t.run(ctx, t.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-print_format", "json",
		"-show_entries", "stream=width,height,nb_frames,avg_frame_rate,duration:format=duration",
		path,
	)
	if err != nil {
		return ports.MediaInfo{}, formatError("ffprobe", path, err, stderr)
	}

	return parseProbe([]byte(stdout))
}

func (t *Tool) Scale(ctx context.Context, req ports.ScaleRequest) error {
	if req.Target.Degenerate() {
		return fmt.Errorf("invalid scale target %s", req.Target)
	}

	args := []string{
		"-y", "-v", "error",
		"-i", req.Source,
		"-vf", scaleFilter(req.Target, req.Crop),
	}
	if req.Frames > 0 {
		args = append(args, "-frames:v", strconv.Itoa(req.Frames))
	}
	args = append(args,
		"-an",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-f", "mp4",
		req.Output,
	)

	_, stderr, err := t.run(ctx, t.ffmpeg, args...)
	if err != nil {
		return formatError("ffmpeg", req.Source, err, stderr)
	}
	return nil
}

func scaleFilter(target domain.Resolution, crop bool) string {
	w, h := target.Width, target.Height
	if crop {
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1", w, h, w, h)
	}
	return fmt.Sprintf("scale=%d:%d,setsar=1", w, h)
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	NbFrames     string `json:"nb_frames"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
}

func parseProbe(data []byte) (ports.MediaInfo, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return ports.MediaInfo{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	if len(raw.Streams) == 0 {
		return ports.MediaInfo{}, errors.New("no video stream found")
	}

	s := raw.Streams[0]
	info := ports.MediaInfo{Resolution: domain.Resolution{Width: s.Width, Height: s.Height}}

	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.Frames = n
		return info, nil
	}

	// Containers such as mkv carry no frame count; derive it from duration.
	duration := parseFloat(s.Duration)
	if duration <= 0 {
		duration = parseFloat(raw.Format.Duration)
	}
	if fps := parseRate(s.AvgFrameRate); fps > 0 && duration > 0 {
		info.Frames = int(math.Round(duration * fps))
	}

	return info, nil
}

func parseRate(raw string) float64 {
	num, den, ok := strings.Cut(raw, "/")
	if !ok {
		return parseFloat(raw)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}

func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", fmt.Errorf("%w: %s not found in PATH", ErrUnavailable, name)
		}
		return "", "", fmt.Errorf("locate %s: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return stdout.String(), stderr.String(), err
}

func formatError(tool, path string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("%s %q: %w", tool, path, err)
	}
	return fmt.Errorf("%s %q: %w: %s", tool, path, err, stderr)
}
