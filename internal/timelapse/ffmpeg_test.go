package timelapse

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteConcatList(t *testing.T) {
	tmpDir := t.TempDir()
	out := filepath.Join(tmpDir, "stitched.mp4")

	listFile, err := writeConcatList([]string{
		filepath.Join(tmpDir, "a.mp4"),
		filepath.Join(tmpDir, "b.mp4"),
	}, out)
	if err != nil {
		t.Fatalf("writeConcatList failed: %v", err)
	}
	defer os.Remove(listFile)

	data, err := os.ReadFile(listFile)
	if err != nil {
		t.Fatalf("read list file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "file '") || !strings.Contains(lines[0], "a.mp4") {
		t.Errorf("first line = %q, want concat entry for a.mp4", lines[0])
	}
}

func TestWriteConcatListEscapesQuotes(t *testing.T) {
	tmpDir := t.TempDir()
	out := filepath.Join(tmpDir, "stitched.mp4")

	listFile, err := writeConcatList([]string{
		filepath.Join(tmpDir, "it's.mp4"),
	}, out)
	if err != nil {
		t.Fatalf("writeConcatList failed: %v", err)
	}
	defer os.Remove(listFile)

	data, err := os.ReadFile(listFile)
	if err != nil {
		t.Fatalf("read list file: %v", err)
	}
	if !strings.Contains(string(data), `'\''`) {
		t.Errorf("quote not escaped: %q", string(data))
	}
}

func TestDependencyStatusShape(t *testing.T) {
	// Only asserts consistency: a found binary must come with a path.
	report := DependencyStatus()
	if report.FFmpegFound && report.FFmpegPath == "" {
		t.Error("FFmpegFound without FFmpegPath")
	}
	if !report.FFmpegFound && report.FFmpegPath != "" {
		t.Error("FFmpegPath without FFmpegFound")
	}
}
