package recording

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/vegerot/dayflow/internal/db"
	"github.com/vegerot/dayflow/internal/errors"
)

// PurgeIfNeeded evicts the oldest unreferenced chunks when total
// allocation under the recordings root exceeds the configured quota.
// A single pass deletes at most EvictionBatchSize chunks; the quota
// re-check is deferred to the next registration, trading strict quota
// adherence for bounded per-call latency.
func (s *Store) PurgeIfNeeded() error {
	total, err := dirSize(s.cfg.RecordingsDir)
	if err != nil {
		return errors.NewStorage(err)
	}
	if total <= s.cfg.StorageQuotaBytes {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The referential check and the row deletes share one immediate
	// transaction (the DSN opens every transaction with the write lock
	// held), so a chunk cannot be claimed by a batch between them.
	tx, err := s.database.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	victims, err := db.ListEvictableChunks(tx, s.cfg.EvictionBatchSize)
	if err != nil {
		return err
	}

	for _, v := range victims {
		if err := db.DeleteChunkTx(tx, v.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}

	// Files go after the commit: an orphaned file is recoverable noise,
	// an orphaned row pointing at a deleted file is not.
	for _, v := range victims {
		if err := os.Remove(v.FilePath); err != nil && !os.IsNotExist(err) {
			log.Printf("recording: evict file %s: %v", v.FilePath, err)
		}
	}

	if len(victims) > 0 {
		log.Printf("recording: evicted %d chunks (allocation %d over quota %d)",
			len(victims), total, s.cfg.StorageQuotaBytes)
	}
	return nil
}

// dirSize sums file sizes under root. A missing root counts as empty.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}
