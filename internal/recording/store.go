// Package recording owns the durable record of captured video chunks:
// ingestion, lifecycle status, and the on-disk storage quota.
package recording

import (
	"crypto/rand"
	"database/sql"
	"log"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vegerot/dayflow/internal/config"
	"github.com/vegerot/dayflow/internal/db"
	"github.com/vegerot/dayflow/internal/errors"
	"github.com/vegerot/dayflow/internal/timeline"
)

// Store is the chunk store. All writes are serialized through mu so
// eviction never runs concurrently with ingestion.
type Store struct {
	database *sql.DB
	cfg      *config.Config

	mu sync.Mutex
}

// NewStore creates a chunk store over an initialized database.
func NewStore(database *sql.DB, cfg *config.Config) *Store {
	return &Store{database: database, cfg: cfg}
}

// RegisterInput contains parameters for registering a chunk.
type RegisterInput struct {
	StartTS          int64
	FilePath         string
	EstimatedSeconds int64 // estimated duration until MarkCompleted supplies the truth
}

// RegisterOutput contains the result of registering a chunk.
type RegisterOutput struct {
	ID string `json:"id"`
}

// Register inserts a chunk in recording status with an estimated end
// time, then kicks the quota check on a background goroutine so capture
// is never blocked by eviction.
func (s *Store) Register(input RegisterInput) (*RegisterOutput, error) {
	if input.FilePath == "" {
		return nil, errors.NewInvalidRequest("file_path is required")
	}
	if input.StartTS <= 0 {
		return nil, errors.NewInvalidRequest("start_ts must be positive")
	}
	if input.EstimatedSeconds <= 0 {
		input.EstimatedSeconds = 15
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	chunk := &timeline.Chunk{
		ID:       id,
		StartTS:  input.StartTS,
		EndTS:    input.StartTS + input.EstimatedSeconds,
		FilePath: input.FilePath,
		Status:   timeline.ChunkRecording,
	}

	s.mu.Lock()
	err = db.InsertChunk(s.database, chunk)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	go func() {
		if err := s.PurgeIfNeeded(); err != nil {
			log.Printf("recording: purge after register: %v", err)
		}
	}()

	return &RegisterOutput{ID: id}, nil
}

// MarkCompleted overwrites the estimated end time with the true one and
// flips the chunk to completed.
func (s *Store) MarkCompleted(id string, endTS int64) error {
	chunk, err := db.GetChunk(s.database, id)
	if err != nil {
		return err
	}
	if endTS < chunk.StartTS {
		return errors.NewInvalidRequest("end_ts must not precede start_ts")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return db.CompleteChunk(s.database, id, endTS)
}

// MarkFailed deletes the chunk row and best-effort removes the partial
// file. The DB removal is authoritative; a file-deletion failure is
// logged, not escalated.
func (s *Store) MarkFailed(id string) error {
	chunk, err := db.GetChunk(s.database, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	err = db.DeleteChunk(s.database, id)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.Remove(chunk.FilePath); err != nil && !os.IsNotExist(err) {
		log.Printf("recording: remove failed chunk file %s: %v", chunk.FilePath, err)
	}
	return nil
}

// FetchUnprocessed returns completed chunks not yet claimed by a batch,
// ending at or before cutoff, within the configured lookback window.
func (s *Store) FetchUnprocessed(cutoff int64) ([]timeline.Chunk, error) {
	lookbackStart := cutoff - int64(s.cfg.LookbackHours)*3600
	return db.ListUnprocessedChunks(s.database, cutoff, lookbackStart)
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
