package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/vegerot/dayflow/internal/errors"
)

// stubSampler fakes frame extraction without running ffmpeg.
type stubSampler struct {
	duration int64
	frames   int
	err      error
}

func (s *stubSampler) ExtractFrames(ctx context.Context, inPath string, n int, dir string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	count := s.frames
	if count > n {
		count = n
	}
	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		p := filepath.Join(dir, fmt.Sprintf("frame-%03d.jpg", i+1))
		if err := os.WriteFile(p, []byte("jpeg bytes"), 0600); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (s *stubSampler) ProbeDuration(ctx context.Context, inPath string) (int64, error) {
	return s.duration, nil
}

type ollamaCall struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
}

// newFakeOllama answers /api/generate by routing on prompt content.
func newFakeOllama(t *testing.T, respond func(call ollamaCall) string) (*httptest.Server, *[]ollamaCall) {
	t.Helper()
	var mu sync.Mutex
	calls := &[]ollamaCall{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var call ollamaCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		*calls = append(*calls, call)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"response": respond(call),
			"done":     true,
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, calls
}

func newOllamaProvider(server *httptest.Server, sampler FrameSampler, workDir string) *ollamaProvider {
	return &ollamaProvider{
		host:    server.URL,
		model:   "qwen2.5vl:3b",
		client:  server.Client(),
		sampler: sampler,
		frames:  4,
		workDir: workDir,
	}
}

func TestOllamaTranscribeDecomposed(t *testing.T) {
	server, calls := newFakeOllama(t, func(call ollamaCall) string {
		if len(call.Images) > 0 {
			return "A code editor with a Go file open."
		}
		return `[{"start": "0:00", "end": "10:00", "description": "Writing Go code"}]`
	})
	sampler := &stubSampler{duration: 600, frames: 4}
	p := newOllamaProvider(server, sampler, t.TempDir())

	observations, logs, err := p.Transcribe(context.Background(), tempVideo(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(observations) != 1 || observations[0].EndSeconds != 600 {
		t.Fatalf("unexpected observations: %+v", observations)
	}

	// One describe call per frame plus the merge call.
	if len(*calls) != 5 {
		t.Fatalf("expected 5 calls, got %d", len(*calls))
	}
	for i := 0; i < 4; i++ {
		if len((*calls)[i].Images) != 1 {
			t.Errorf("describe call %d carries %d images, want 1", i, len((*calls)[i].Images))
		}
	}
	merge := (*calls)[4]
	if len(merge.Images) != 0 {
		t.Error("merge call should not carry images")
	}
	if !strings.Contains(merge.Prompt, "A code editor with a Go file open.") {
		t.Error("merge prompt missing frame descriptions")
	}

	if len(logs) != 5 {
		t.Fatalf("expected 5 call logs, got %d", len(logs))
	}
	for _, log := range logs {
		if log.Status != "success" {
			t.Errorf("log %q status = %q", log.Operation, log.Status)
		}
	}
	// Frame bytes must not leak into the audit payload.
	if !strings.HasPrefix(logs[0].RequestPayload, "[1 image(s)]") {
		t.Errorf("describe audit payload = %q", logs[0].RequestPayload)
	}
}

func TestOllamaTranscribeClampsToSpan(t *testing.T) {
	server, _ := newFakeOllama(t, func(call ollamaCall) string {
		if len(call.Images) > 0 {
			return "A browser."
		}
		return `[{"start": "0:00", "end": "59:00", "description": "Browsing"}]`
	})
	p := newOllamaProvider(server, &stubSampler{duration: 300, frames: 1}, t.TempDir())

	observations, _, err := p.Transcribe(context.Background(), tempVideo(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if observations[0].EndSeconds != 300 {
		t.Errorf("end = %d, want clamped to 300", observations[0].EndSeconds)
	}
}

func TestOllamaTranscribeNoFrames(t *testing.T) {
	server, _ := newFakeOllama(t, func(ollamaCall) string { return "" })
	p := newOllamaProvider(server, &stubSampler{duration: 300, frames: 0}, t.TempDir())

	_, _, err := p.Transcribe(context.Background(), tempVideo(t))
	if !apperrors.Is(err, apperrors.ErrContent) {
		t.Errorf("expected CONTENT error, got %v", err)
	}
}

func TestOllamaSynthesizeMergesAdjacent(t *testing.T) {
	mergeDecisions := []string{`{"merge": true}`, `{"merge": false}`}
	var decisionIdx int
	server, calls := newFakeOllama(t, func(call ollamaCall) string {
		switch {
		case strings.Contains(call.Prompt, "same continuous activity"):
			d := mergeDecisions[decisionIdx]
			decisionIdx++
			return d
		default:
			return `{"title": "Editing code", "description": "Editing", "category": "Work"}`
		}
	})
	p := newOllamaProvider(server, &stubSampler{}, t.TempDir())

	observations := []Observation{
		{StartSeconds: 0, EndSeconds: 300, Description: "Editing main.go"},
		{StartSeconds: 300, EndSeconds: 600, Description: "Editing main_test.go"},
		{StartSeconds: 600, EndSeconds: 900, Description: "Reading email"},
	}
	cards, logs, err := p.SynthesizeCards(context.Background(), observations,
		Context{Categories: []string{"Work", "Other"}})
	if err != nil {
		t.Fatalf("SynthesizeCards: %v", err)
	}

	// First two merge into one card spanning both; third stays separate.
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}
	if cards[0].StartSeconds != 0 || cards[0].EndSeconds != 600 {
		t.Errorf("merged card span = [%d, %d], want [0, 600]", cards[0].StartSeconds, cards[0].EndSeconds)
	}
	if cards[0].Category != "Work" {
		t.Errorf("category = %q, want Work", cards[0].Category)
	}

	// 3 title calls + 2 merge decisions.
	if len(*calls) != 5 {
		t.Errorf("expected 5 calls, got %d", len(*calls))
	}
	if len(logs) != 5 {
		t.Errorf("expected 5 call logs, got %d", len(logs))
	}
}

func TestOllamaSynthesizeSingleObservationSkipsMerge(t *testing.T) {
	server, calls := newFakeOllama(t, func(ollamaCall) string {
		return `{"title": "Reading docs", "description": "d", "category": "Browsing"}`
	})
	p := newOllamaProvider(server, &stubSampler{}, t.TempDir())

	cards, _, err := p.SynthesizeCards(context.Background(),
		[]Observation{{StartSeconds: 0, EndSeconds: 60, Description: "Reading docs"}},
		Context{Categories: []string{"Browsing", "Other"}})
	if err != nil {
		t.Fatalf("SynthesizeCards: %v", err)
	}
	if len(cards) != 1 || len(*calls) != 1 {
		t.Errorf("got %d cards from %d calls, want 1 and 1", len(cards), len(*calls))
	}
}

func TestOllamaTransportError(t *testing.T) {
	server, _ := newFakeOllama(t, func(ollamaCall) string { return "" })
	p := newOllamaProvider(server, &stubSampler{duration: 300, frames: 1}, t.TempDir())
	server.Close()

	_, _, err := p.Transcribe(context.Background(), tempVideo(t))
	if !apperrors.Is(err, apperrors.ErrTransport) {
		t.Errorf("expected TRANSPORT error, got %v", err)
	}
}
