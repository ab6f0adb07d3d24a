package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// RecordingsDir is where the capturer writes chunk video files.
	// Defaults to <base>/recordings.
	RecordingsDir string `json:"recordings_dir,omitempty"`

	// DerivedDir holds per-card timelapse files and stitched batch videos.
	// Defaults to <base>/derived.
	DerivedDir string `json:"derived_dir,omitempty"`

	// StorageQuotaBytes is the on-disk budget for RecordingsDir.
	// Eviction starts once total allocation exceeds this.
	StorageQuotaBytes int64 `json:"storage_quota_bytes,omitempty"`

	// EvictionBatchSize bounds how many chunks a single purge pass deletes.
	// The quota re-check is deferred to the next registration.
	EvictionBatchSize int `json:"eviction_batch_size,omitempty"`

	// MaxGapSeconds: chunks separated by more than this never share a batch.
	MaxGapSeconds int64 `json:"max_gap_seconds,omitempty"`

	// TargetBatchSeconds is the soft cap on cumulative chunk duration per batch.
	TargetBatchSeconds int64 `json:"target_batch_seconds,omitempty"`

	// MinBatchSeconds: batches below this are recorded but skipped by analysis.
	MinBatchSeconds int64 `json:"min_batch_seconds,omitempty"`

	// AnalysisIntervalSeconds is the scheduler tick interval.
	AnalysisIntervalSeconds int `json:"analysis_interval_seconds,omitempty"`

	// LookbackHours bounds how far back a scheduler run looks for
	// unprocessed chunks.
	LookbackHours int `json:"lookback_hours,omitempty"`

	// DayBoundaryHour shifts the logical day so a session spanning
	// midnight stays in one day. 4 means days run 04:00 to 04:00 local.
	// A configured 0 reads as unset and keeps the default; a plain
	// midnight boundary is not expressible.
	DayBoundaryHour int `json:"day_boundary_hour,omitempty"`

	// Provider selects the analysis back-end: "gemini" or "ollama".
	Provider string `json:"provider,omitempty"`

	// ProviderEndpoint overrides the provider base URL (tests, proxies).
	ProviderEndpoint string `json:"provider_endpoint,omitempty"`

	// ProviderModel overrides the provider's default model name.
	ProviderModel string `json:"provider_model,omitempty"`

	// UploadTimeoutSeconds bounds the upload-status poll loop.
	UploadTimeoutSeconds int `json:"upload_timeout_seconds,omitempty"`

	// UploadPollSeconds paces each unready status poll.
	UploadPollSeconds int `json:"upload_poll_seconds,omitempty"`

	// FramesPerBatch is the decomposed provider's sampling density.
	FramesPerBatch int `json:"frames_per_batch,omitempty"`

	// TimelapseSpeed is the speed multiplier for derived timelapse videos.
	TimelapseSpeed int `json:"timelapse_speed,omitempty"`

	// Categories is the user-defined taxonomy handed to card synthesis.
	Categories []string `json:"categories,omitempty"`

	// DBMaxOpenConns limits open database connections. Setting 1
	// serializes all access. 0 means sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits idle database connections. 0 means default.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		StorageQuotaBytes:       5 << 30, // 5 GiB
		EvictionBatchSize:       10,
		MaxGapSeconds:           180,
		TargetBatchSeconds:      900,
		MinBatchSeconds:         300,
		AnalysisIntervalSeconds: 60,
		LookbackHours:           24,
		DayBoundaryHour:         4,
		Provider:                "gemini",
		UploadTimeoutSeconds:    300,
		UploadPollSeconds:       5,
		FramesPerBatch:          8,
		TimelapseSpeed:          20,
		Categories:              []string{"Work", "Communication", "Browsing", "Media", "Other"},
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.dayflow.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	cfg.applyDirDefaults(baseDir)
	return cfg, nil
}

// applyDirDefaults fills in directory paths relative to baseDir.
func (c *Config) applyDirDefaults(baseDir string) {
	if c.RecordingsDir == "" {
		c.RecordingsDir = filepath.Join(baseDir, "recordings")
	}
	if c.DerivedDir == "" {
		c.DerivedDir = filepath.Join(baseDir, "derived")
	}
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.RecordingsDir = pickString(base.RecordingsDir, overlay.RecordingsDir)
	result.DerivedDir = pickString(base.DerivedDir, overlay.DerivedDir)
	result.Provider = pickString(base.Provider, overlay.Provider)
	result.ProviderEndpoint = pickString(base.ProviderEndpoint, overlay.ProviderEndpoint)
	result.ProviderModel = pickString(base.ProviderModel, overlay.ProviderModel)

	result.StorageQuotaBytes = pickInt64(base.StorageQuotaBytes, overlay.StorageQuotaBytes)
	result.MaxGapSeconds = pickInt64(base.MaxGapSeconds, overlay.MaxGapSeconds)
	result.TargetBatchSeconds = pickInt64(base.TargetBatchSeconds, overlay.TargetBatchSeconds)
	result.MinBatchSeconds = pickInt64(base.MinBatchSeconds, overlay.MinBatchSeconds)

	result.EvictionBatchSize = pickInt(base.EvictionBatchSize, overlay.EvictionBatchSize)
	result.AnalysisIntervalSeconds = pickInt(base.AnalysisIntervalSeconds, overlay.AnalysisIntervalSeconds)
	result.LookbackHours = pickInt(base.LookbackHours, overlay.LookbackHours)
	result.DayBoundaryHour = pickInt(base.DayBoundaryHour, overlay.DayBoundaryHour)
	result.UploadTimeoutSeconds = pickInt(base.UploadTimeoutSeconds, overlay.UploadTimeoutSeconds)
	result.UploadPollSeconds = pickInt(base.UploadPollSeconds, overlay.UploadPollSeconds)
	result.FramesPerBatch = pickInt(base.FramesPerBatch, overlay.FramesPerBatch)
	result.TimelapseSpeed = pickInt(base.TimelapseSpeed, overlay.TimelapseSpeed)
	result.DBMaxOpenConns = pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	// Categories: overlay replaces wholesale if set, since it is a
	// taxonomy, not an accumulating list.
	if len(overlay.Categories) > 0 {
		result.Categories = dedupeStrings(overlay.Categories)
	} else {
		result.Categories = dedupeStrings(base.Categories)
	}

	return result
}

func pickString(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// pickInt treats zero as unset, so integer settings whose meaningful
// value would be zero cannot be expressed and keep their default.
func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickInt64(base, overlay int64) int64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

// dedupeStrings trims whitespace and removes duplicates, preserving order.
func dedupeStrings(in []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
