// Package batching groups an ordered chunk sequence into analysis batches.
// The builder is a pure function over its inputs; persistence and status
// handling belong to the scheduler.
package batching

import (
	"sort"

	"github.com/vegerot/dayflow/internal/timeline"
)

// Params control batch formation.
type Params struct {
	// MaxGapSeconds: chunks separated by more than this never share a
	// batch. Captures sleep and recording-interruption boundaries.
	MaxGapSeconds int64

	// TargetSeconds is the soft cap on cumulative chunk duration per batch.
	TargetSeconds int64

	// MinSeconds: drafts below this are still created but flagged Short
	// so the scheduler can settle them as skipped_short without spending
	// provider calls.
	MinSeconds int64
}

// Draft is a batch the builder proposes; the scheduler persists it.
type Draft struct {
	Chunks  []timeline.Chunk
	StartTS int64
	EndTS   int64
	// Short marks cumulative duration below MinSeconds.
	Short bool
}

// Duration returns the draft's cumulative chunk duration in seconds.
// Gaps between chunks do not count.
func (d Draft) Duration() int64 {
	var total int64
	for _, c := range d.Chunks {
		total += c.Duration()
	}
	return total
}

// ChunkIDs returns the draft's chunk IDs in time order.
func (d Draft) ChunkIDs() []string {
	ids := make([]string, len(d.Chunks))
	for i, c := range d.Chunks {
		ids[i] = c.ID
	}
	return ids
}

// Build groups chunks into batch drafts. A bucket closes when the gap to
// the previous chunk's end exceeds MaxGapSeconds, or when adding the next
// chunk would push cumulative duration past TargetSeconds.
//
// The trailing bucket is dropped while it is both below TargetSeconds and
// still live (within MaxGapSeconds of now), so a still-growing batch is
// not submitted early. Once more than MaxGapSeconds of wall clock has
// passed since its last chunk, no future chunk can join it and it is
// emitted; a later full run therefore folds trailing data into exactly
// the batches a fresh run would produce.
func Build(chunks []timeline.Chunk, now int64, p Params) []Draft {
	if len(chunks) == 0 {
		return nil
	}

	sorted := make([]timeline.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartTS < sorted[j].StartTS
	})

	var (
		drafts  []Draft
		bucket  []timeline.Chunk
		bucketD int64
	)

	flush := func() {
		if len(bucket) == 0 {
			return
		}
		drafts = append(drafts, Draft{
			Chunks:  bucket,
			StartTS: bucket[0].StartTS,
			EndTS:   bucket[len(bucket)-1].EndTS,
			Short:   bucketD < p.MinSeconds,
		})
		bucket = nil
		bucketD = 0
	}

	for _, c := range sorted {
		if len(bucket) > 0 {
			gap := c.StartTS - bucket[len(bucket)-1].EndTS
			if gap > p.MaxGapSeconds || bucketD+c.Duration() > p.TargetSeconds {
				flush()
			}
		}
		bucket = append(bucket, c)
		bucketD += c.Duration()
	}

	// Trailing bucket: emit only if full or no longer growing.
	if len(bucket) > 0 {
		live := now-bucket[len(bucket)-1].EndTS <= p.MaxGapSeconds
		if bucketD >= p.TargetSeconds || !live {
			flush()
		}
	}

	return drafts
}
