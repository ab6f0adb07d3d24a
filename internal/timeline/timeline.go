package timeline

// ChunkStatus represents the lifecycle stage of a recorded chunk.
type ChunkStatus string

const (
	ChunkRecording ChunkStatus = "recording"
	ChunkCompleted ChunkStatus = "completed"
	ChunkFailed    ChunkStatus = "failed"
)

// BatchStatus represents the analysis state of a batch.
type BatchStatus string

const (
	BatchPending      BatchStatus = "pending"
	BatchProcessing   BatchStatus = "processing"
	BatchCompleted    BatchStatus = "completed"
	BatchFailed       BatchStatus = "failed"
	BatchFailedEmpty  BatchStatus = "failed_empty"
	BatchSkippedShort BatchStatus = "skipped_short"
)

// IsTerminal reports whether a batch status will not change without an
// explicit reprocess.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchFailedEmpty, BatchSkippedShort:
		return true
	}
	return false
}

// Chunk is a single recorded video segment. Immutable once completed.
type Chunk struct {
	ID       string
	StartTS  int64
	EndTS    int64
	FilePath string
	Status   ChunkStatus
	Uploaded bool
}

// Duration returns the chunk length in seconds.
func (c Chunk) Duration() int64 {
	return c.EndTS - c.StartTS
}

// Batch is a contiguous-in-time grouping of chunks submitted together
// for analysis.
type Batch struct {
	ID            string
	StartTS       int64
	EndTS         int64
	Status        BatchStatus
	FailureReason *string
	CreatedAt     int64
}

// Observation is a provider-extracted fact about activity within a batch.
// Times are absolute once persisted; providers emit video-relative times.
type Observation struct {
	ID          string
	BatchID     string
	StartTS     int64
	EndTS       int64
	Observation string
	CreatedAt   int64
}

// Card is a user-facing timeline entry with an absolute time range.
type Card struct {
	ID            string
	BatchID       string
	StartTS       int64
	EndTS         int64
	Title         string
	Description   string
	Category      string
	Metadata      *string
	TimelapsePath *string
	CreatedAt     int64
}

// LLMCall is a write-once audit record of a single provider call attempt.
type LLMCall struct {
	ID              string
	BatchID         *string
	Provider        string
	Operation       string
	RequestPayload  string
	ResponsePayload *string
	Status          string
	Attempt         int
	CreatedAt       int64
}
