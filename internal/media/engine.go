package media

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"reelforge/internal/infra"
)

// Standardization target. The two inputs (AI-generated video, user-uploaded
// product media) arrive in unpredictable encodings; both are normalized to
// this profile before concatenation so the fast stream-copy strategy works.
const (
	targetWidth  = 1080
	targetHeight = 1920
	targetFPS    = 30
)

// Merger joins the provider video with a secondary asset into one output
// file on local disk.
type Merger interface {
	Merge(ctx context.Context, primaryURL, secondaryURL string) (string, func(), error)
}

// Engine shells out to ffmpeg for standardization and concatenation. All
// scratch files live in a per-merge temp directory removed on every exit
// path via the returned cleanup func.
type Engine struct {
	ffmpegPath string
	httpClient *http.Client
	logger     infra.Logger
}

// NewEngine constructs a Merger using the given ffmpeg binary.
func NewEngine(ffmpegPath string, httpClient *http.Client, logger infra.Logger) *Engine {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Engine{ffmpegPath: ffmpegPath, httpClient: httpClient, logger: logger}
}

// Merge downloads both assets, standardizes them and concatenates primary
// followed by secondary. It returns the output path and a cleanup func the
// caller must run once the output has been consumed. Cleanup is safe to call
// even when Merge returns an error.
func (e *Engine) Merge(ctx context.Context, primaryURL, secondaryURL string) (string, func(), error) {
	scratch, err := os.MkdirTemp("", "reelforge-merge-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("media: create scratch dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(scratch) }

	primaryRaw := filepath.Join(scratch, "primary_raw.mp4")
	secondaryRaw := filepath.Join(scratch, "secondary_raw.mp4")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.download(gctx, primaryURL, primaryRaw) })
	g.Go(func() error { return e.download(gctx, secondaryURL, secondaryRaw) })
	if err := g.Wait(); err != nil {
		cleanup()
		return "", func() {}, err
	}

	primaryStd := filepath.Join(scratch, "primary_std.mp4")
	secondaryStd := filepath.Join(scratch, "secondary_std.mp4")
	if err := e.run(ctx, standardizeArgs(primaryRaw, primaryStd)); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("standardize primary: %w", err)
	}
	if err := e.run(ctx, standardizeArgs(secondaryRaw, secondaryStd)); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("standardize secondary: %w", err)
	}

	output := filepath.Join(scratch, "final.mp4")
	listPath := filepath.Join(scratch, "concat.txt")
	if err := writeConcatList(listPath, primaryStd, secondaryStd); err != nil {
		cleanup()
		return "", func() {}, err
	}

	if err := e.run(ctx, concatCopyArgs(listPath, output)); err != nil {
		e.logger.Warn().Err(err).Msg("media: stream-copy concat failed, retrying with full re-encode")
		if err := e.run(ctx, concatReencodeArgs(primaryStd, secondaryStd, output)); err != nil {
			cleanup()
			return "", func() {}, fmt.Errorf("concatenate: %w", err)
		}
	}

	return output, cleanup, nil
}

// run executes ffmpeg with the given arguments, surfacing the tail of stderr
// on failure.
func (e *Engine) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 400))
	}
	return nil
}

// standardizeArgs normalizes one input to the common resolution, frame rate
// and codec profile. Scaling preserves aspect ratio and pads to the target
// frame.
func standardizeArgs(input, output string) []string {
	filter := fmt.Sprintf(
		"scale=%[1]d:%[2]d:force_original_aspect_ratio=decrease,pad=%[1]d:%[2]d:(ow-iw)/2:(oh-ih)/2,fps=%[3]d,format=yuv420p",
		targetWidth, targetHeight, targetFPS,
	)
	return []string{
		"-y", "-i", input,
		"-vf", filter,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-ar", "44100", "-ac", "2",
		"-movflags", "+faststart",
		output,
	}
}

// concatCopyArgs joins pre-standardized inputs with the concat demuxer and
// stream copy. Fast, but strict about matching streams.
func concatCopyArgs(listPath, output string) []string {
	return []string{
		"-y", "-f", "concat", "-safe", "0", "-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}
}

// concatReencodeArgs is the slower fallback: decode both inputs and re-encode
// through the concat filter. Tolerates residual stream mismatches.
func concatReencodeArgs(first, second, output string) []string {
	return []string{
		"-y", "-i", first, "-i", second,
		"-filter_complex", "[0:v][0:a][1:v][1:a]concat=n=2:v=1:a=1[v][a]",
		"-map", "[v]", "-map", "[a]",
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-c:a", "aac", "-ar", "44100", "-ac", "2",
		"-movflags", "+faststart",
		output,
	}
}

func writeConcatList(path string, inputs ...string) error {
	var sb strings.Builder
	for _, input := range inputs {
		fmt.Fprintf(&sb, "file '%s'\n", strings.ReplaceAll(input, "'", "'\\''"))
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("media: write concat list: %w", err)
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
