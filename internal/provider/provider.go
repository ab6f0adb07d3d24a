// Package provider defines the analysis back-end contract and its two
// concrete shapes: a holistic provider that analyzes a batch's stitched
// video in one multimodal call, and a decomposed provider that samples
// frames and folds per-frame descriptions together locally.
package provider

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vegerot/dayflow/internal/config"
	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timelapse"
)

const defaultHTTPTimeout = 3 * time.Minute

// Observation is a provider-extracted fact in video-relative time
// (seconds from the start of the batch's stitched video).
type Observation struct {
	StartSeconds int64
	EndSeconds   int64
	Description  string
}

// CardDraft is a synthesized activity card, still in video-relative time.
// The scheduler converts to absolute unix time before persisting.
type CardDraft struct {
	StartSeconds int64
	EndSeconds   int64
	Title        string
	Description  string
	Category     string
}

// Context carries prior-segment summaries and the category taxonomy so
// synthesis can merge or dedupe against adjacent time.
type Context struct {
	PriorCards []string
	Categories []string
}

// CallLog captures one provider call attempt for the audit trail.
type CallLog struct {
	Operation       string
	RequestPayload  string
	ResponsePayload string
	Status          string
	Attempt         int
}

// Provider is the two-call analysis contract. Both calls return their
// audit logs even on failure so every attempt is recorded.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, videoPath string) ([]Observation, []CallLog, error)
	SynthesizeCards(ctx context.Context, observations []Observation, pctx Context) ([]CardDraft, []CallLog, error)
}

// NewFromConfig builds a provider from configuration, consulting the
// environment for credentials and hosts the way the local tooling does.
func NewFromConfig(cfg *config.Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, errors.NewInvalidRequest("GEMINI_API_KEY is not set")
		}
		base := cfg.ProviderEndpoint
		if base == "" {
			base = "https://generativelanguage.googleapis.com"
		}
		model := cfg.ProviderModel
		if model == "" {
			model = "gemini-2.0-flash"
		}
		return &geminiProvider{
			base:   strings.TrimRight(base, "/"),
			apiKey: apiKey,
			model:  model,
			client: &http.Client{Timeout: defaultHTTPTimeout},
			uploader: &uploadClient{
				base:        strings.TrimRight(base, "/"),
				apiKey:      apiKey,
				client:      &http.Client{Timeout: defaultHTTPTimeout},
				pollDelay:   time.Duration(cfg.UploadPollSeconds) * time.Second,
				pollTimeout: time.Duration(cfg.UploadTimeoutSeconds) * time.Second,
			},
		}, nil
	case "ollama":
		host := cfg.ProviderEndpoint
		if host == "" {
			if env := os.Getenv("OLLAMA_HOST"); env != "" {
				host = strings.TrimRight(env, "/")
			} else {
				host = "http://localhost:11434"
			}
		}
		model := cfg.ProviderModel
		if model == "" {
			model = "qwen2.5vl:3b"
		}
		encoder, err := timelapse.NewEncoder(cfg.TimelapseSpeed)
		if err != nil {
			return nil, err
		}
		return &ollamaProvider{
			host:    strings.TrimRight(host, "/"),
			model:   model,
			client:  &http.Client{Timeout: defaultHTTPTimeout},
			sampler: encoder,
			frames:  cfg.FramesPerBatch,
			workDir: cfg.DerivedDir,
		}, nil
	default:
		return nil, errors.NewInvalidRequest("unknown provider " + cfg.Provider + " (expected gemini or ollama)")
	}
}
