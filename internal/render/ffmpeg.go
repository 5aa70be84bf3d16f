package render

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// ProgressUpdate reports rendering progress for one cut.
type ProgressUpdate struct {
	Seconds float64
	Speed   string
}

// Client defines the rendering behaviour the export worker needs.
type Client interface {
	// Cut extracts [startOffset, endOffset) seconds of inputPath into
	// outputPath, re-encoding for clean cut points.
	Cut(ctx context.Context, inputPath, outputPath string, startOffset, endOffset float64, progress func(ProgressUpdate)) error
	// Concat joins the listed clips into outputPath without re-encoding.
	Concat(ctx context.Context, clipPaths []string, outputPath string) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default ffmpeg binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps the ffmpeg command line tool.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "ffmpeg"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Cut extracts a slice of the input file. Progress lines from ffmpeg's
// -progress machine output are forwarded to the callback when provided.
func (c *CLI) Cut(ctx context.Context, inputPath, outputPath string, startOffset, endOffset float64, progress func(ProgressUpdate)) error {
	if inputPath == "" {
		return errors.New("input path required")
	}
	if outputPath == "" {
		return errors.New("output path required")
	}
	if endOffset <= startOffset {
		return fmt.Errorf("invalid cut range [%f, %f)", startOffset, endOffset)
	}

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", formatSeconds(startOffset),
		"-to", formatSeconds(endOffset),
		"-i", inputPath,
		"-c:v", "libx264", "-preset", "fast", "-crf", "20",
		"-c:a", "aac",
		"-progress", "pipe:1", "-loglevel", "error",
		outputPath,
	}
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	var update ProgressUpdate
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "out_time_us":
			if us, err := strconv.ParseInt(value, 10, 64); err == nil {
				update.Seconds = float64(us) / 1e6
			}
		case "speed":
			update.Speed = value
		case "progress":
			if progress != nil {
				progress(update)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg cut failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Concat joins clips via the concat demuxer. The clip list file is written
// next to the output and removed afterwards.
func (c *CLI) Concat(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return errors.New("no clips to concatenate")
	}
	if outputPath == "" {
		return errors.New("output path required")
	}

	listPath := outputPath + ".concat"
	var list strings.Builder
	for _, clip := range clipPaths {
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(clip, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-loglevel", "error",
		outputPath,
	}
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg concat failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// ClipPath names the staging file for cut index i of a job.
func ClipPath(stagingDir, jobID string, index int) string {
	return filepath.Join(stagingDir, fmt.Sprintf("%s-clip-%04d.mp4", jobID, index))
}

var _ Client = (*CLI)(nil)
