// Package timelapse wraps ffmpeg for the pipeline's video plumbing:
// stitching a batch's chunks into one artifact, deriving sped-up
// timelapse files, and sampling frames for the decomposed provider.
package timelapse

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Encoder runs ffmpeg. The zero value is unusable; use NewEncoder.
type Encoder struct {
	ffmpegPath  string
	ffprobePath string
	speed       int
}

// DependencyReport describes which external binaries were found.
type DependencyReport struct {
	FFmpegFound  bool   `json:"ffmpeg_found"`
	FFmpegPath   string `json:"ffmpeg_path,omitempty"`
	FFprobeFound bool   `json:"ffprobe_found"`
	FFprobePath  string `json:"ffprobe_path,omitempty"`
}

// DependencyStatus reports whether ffmpeg and ffprobe are on PATH.
func DependencyStatus() DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	if path, err := exec.LookPath("ffprobe"); err == nil {
		report.FFprobeFound = true
		report.FFprobePath = path
	}
	return report
}

// NewEncoder creates an Encoder with the given timelapse speed multiplier.
func NewEncoder(speed int) (*Encoder, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("missing dependency: ffmpeg is not installed or not on PATH")
	}
	if speed < 1 {
		speed = 1
	}
	// ffprobe is optional; only duration probing needs it.
	probePath, _ := exec.LookPath("ffprobe")
	return &Encoder{ffmpegPath: path, ffprobePath: probePath, speed: speed}, nil
}

// Stitch concatenates chunk files, in the given order, into outPath.
// Uses the concat demuxer with stream copy: chunks come from one capture
// pipeline and share codec parameters.
func (e *Encoder) Stitch(ctx context.Context, chunkPaths []string, outPath string) error {
	if len(chunkPaths) == 0 {
		return fmt.Errorf("no chunks to stitch")
	}

	listFile, err := writeConcatList(chunkPaths, outPath)
	if err != nil {
		return err
	}
	defer os.Remove(listFile)

	return e.run(ctx,
		"-f", "concat", "-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-y", outPath,
	)
}

// Timelapse re-encodes inPath at the configured speed multiplier,
// dropping audio.
func (e *Encoder) Timelapse(ctx context.Context, inPath, outPath string) error {
	setpts := fmt.Sprintf("setpts=PTS/%d", e.speed)
	return e.run(ctx,
		"-i", inPath,
		"-vf", setpts,
		"-an",
		"-y", outPath,
	)
}

// ExtractFrames samples n frames evenly from inPath into dir as JPEGs,
// returning their paths in frame order.
func (e *Encoder) ExtractFrames(ctx context.Context, inPath string, n int, dir string) ([]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("frame count must be positive")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	pattern := filepath.Join(dir, "frame-%03d.jpg")
	// thumbnail=n would need the stream duration; frame-rate decimation
	// against the expected batch length is close enough for sampling.
	err := e.run(ctx,
		"-i", inPath,
		"-vf", fmt.Sprintf("select='not(mod(n\\,%d))',setpts=N/FRAME_RATE/TB", 90),
		"-frames:v", fmt.Sprintf("%d", n),
		"-q:v", "4",
		"-y", pattern,
	)
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(dir, "frame-*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ProbeDuration returns the container duration of inPath in whole
// seconds, rounded up.
func (e *Encoder) ProbeDuration(ctx context.Context, inPath string) (int64, error) {
	if e.ffprobePath == "" {
		return 0, fmt.Errorf("missing dependency: ffprobe is not installed or not on PATH")
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inPath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return 0, fmt.Errorf("ffprobe: %s", msg)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: unparseable duration %q", stdout.String())
	}
	return int64(math.Ceil(seconds)), nil
}

// run executes ffmpeg with the given arguments, surfacing stderr on failure.
func (e *Encoder) run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, full...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("ffmpeg %s: %s", args[0], msg)
	}
	return nil
}

// writeConcatList writes the concat demuxer's input list next to outPath.
func writeConcatList(chunkPaths []string, outPath string) (string, error) {
	var b strings.Builder
	for _, p := range chunkPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		// Single quotes in paths must be escaped for the demuxer.
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}

	listFile := outPath + ".txt"
	if err := os.WriteFile(listFile, []byte(b.String()), 0600); err != nil {
		return "", err
	}
	return listFile, nil
}
