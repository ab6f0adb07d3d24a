package batching

import (
	"testing"

	"github.com/vegerot/dayflow/internal/timeline"
)

func chunk(id string, start, end int64) timeline.Chunk {
	return timeline.Chunk{
		ID: id, StartTS: start, EndTS: end,
		FilePath: "/tmp/" + id + ".mp4", Status: timeline.ChunkCompleted,
	}
}

var testParams = Params{
	MaxGapSeconds: 120,
	TargetSeconds: 900,
	MinSeconds:    300,
}

// now far enough past every chunk that no trailing bucket is still live.
const settled = int64(1 << 40)

func TestBuildEmptyInput(t *testing.T) {
	if drafts := Build(nil, settled, testParams); len(drafts) != 0 {
		t.Errorf("Build(nil) = %d drafts, want 0", len(drafts))
	}
}

// The scenario from the pipeline's acceptance checklist: two clusters
// separated by a gap over the limit, both under the minimum duration.
func TestBuildGapScenario(t *testing.T) {
	chunks := []timeline.Chunk{
		chunk("a", 0, 15),
		chunk("b", 15, 30),
		chunk("c", 200, 215),
	}

	drafts := Build(chunks, settled, testParams)
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}

	first := drafts[0]
	if len(first.Chunks) != 2 || first.StartTS != 0 || first.EndTS != 30 {
		t.Errorf("first draft = %v [%d,%d), want {a,b} [0,30)", first.ChunkIDs(), first.StartTS, first.EndTS)
	}
	second := drafts[1]
	if len(second.Chunks) != 1 || second.StartTS != 200 || second.EndTS != 215 {
		t.Errorf("second draft = %v [%d,%d), want {c} [200,215)", second.ChunkIDs(), second.StartTS, second.EndTS)
	}

	// Both cumulative durations (30s, 15s) are under MinSeconds.
	if !first.Short || !second.Short {
		t.Errorf("Short flags = %v/%v, want both true", first.Short, second.Short)
	}
}

// Gaps all within the limit and total under target: at most one batch.
func TestBuildSingleBucket(t *testing.T) {
	chunks := []timeline.Chunk{
		chunk("a", 0, 60),
		chunk("b", 90, 150),
		chunk("c", 200, 260),
	}

	drafts := Build(chunks, settled, testParams)
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	if got := len(drafts[0].Chunks); got != 3 {
		t.Errorf("chunks in draft = %d, want 3", got)
	}
	if drafts[0].Duration() != 180 {
		t.Errorf("Duration = %d, want 180", drafts[0].Duration())
	}
}

// A gap strictly over the limit always produces a boundary, regardless of
// accumulated duration.
func TestBuildGapAlwaysSplits(t *testing.T) {
	chunks := []timeline.Chunk{
		chunk("a", 0, 30),
		chunk("b", 151, 181), // gap 121 > 120
	}

	drafts := Build(chunks, settled, testParams)
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
}

func TestBuildGapExactlyAtLimitStaysTogether(t *testing.T) {
	chunks := []timeline.Chunk{
		chunk("a", 0, 30),
		chunk("b", 150, 180), // gap 120 == limit
	}

	drafts := Build(chunks, settled, testParams)
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
}

func TestBuildTargetDurationSplits(t *testing.T) {
	// Four 300s chunks back to back: 900 fits, the fourth starts a new bucket.
	chunks := []timeline.Chunk{
		chunk("a", 0, 300),
		chunk("b", 300, 600),
		chunk("c", 600, 900),
		chunk("d", 900, 1200),
	}

	drafts := Build(chunks, settled, testParams)
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	if len(drafts[0].Chunks) != 3 || len(drafts[1].Chunks) != 1 {
		t.Errorf("split = %d/%d chunks, want 3/1", len(drafts[0].Chunks), len(drafts[1].Chunks))
	}
}

func TestBuildOversizedSingleChunk(t *testing.T) {
	// One chunk alone past the target gets its own batch, submitted normally.
	chunks := []timeline.Chunk{
		chunk("big", 0, 1000),
		chunk("next", 1010, 1040),
	}

	drafts := Build(chunks, settled, testParams)
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	if drafts[0].Chunks[0].ID != "big" || drafts[0].Short {
		t.Errorf("oversized chunk draft = %+v, want big, not short", drafts[0])
	}
}

// A trailing bucket under target is withheld while still growing.
func TestBuildDropsLiveTrailingBucket(t *testing.T) {
	chunks := []timeline.Chunk{
		chunk("a", 0, 15),
		chunk("b", 15, 30),
	}

	now := int64(90) // within MaxGapSeconds of b's end
	drafts := Build(chunks, now, testParams)
	if len(drafts) != 0 {
		t.Errorf("live trailing bucket should be dropped, got %d drafts", len(drafts))
	}
}

// Re-running after the trailing data grows must produce exactly the
// batches a fresh full run would: no duplication, no gap.
func TestBuildTrailingIdempotence(t *testing.T) {
	early := []timeline.Chunk{
		chunk("a", 0, 300),
		chunk("b", 300, 600),
	}
	now := int64(650)

	if drafts := Build(early, now, testParams); len(drafts) != 0 {
		t.Fatalf("growing trailing bucket leaked: %d drafts", len(drafts))
	}

	grown := append(early, chunk("c", 600, 900), chunk("d", 900, 1200))
	later := Build(grown, 1250, testParams)
	fresh := Build(grown, 1250, testParams)

	if len(later) != len(fresh) {
		t.Fatalf("incremental %d drafts vs fresh %d", len(later), len(fresh))
	}
	for i := range later {
		if later[i].StartTS != fresh[i].StartTS || later[i].EndTS != fresh[i].EndTS {
			t.Errorf("draft %d differs: [%d,%d) vs [%d,%d)", i,
				later[i].StartTS, later[i].EndTS, fresh[i].StartTS, fresh[i].EndTS)
		}
	}
}

// A trailing bucket that can no longer grow is emitted even when short.
func TestBuildEmitsSettledShortTrailer(t *testing.T) {
	chunks := []timeline.Chunk{chunk("a", 0, 15)}

	drafts := Build(chunks, 15+testParams.MaxGapSeconds+1, testParams)
	if len(drafts) != 1 {
		t.Fatalf("settled trailer should be emitted, got %d drafts", len(drafts))
	}
	if !drafts[0].Short {
		t.Error("15s draft should be flagged Short")
	}
}

func TestBuildSortsUnorderedInput(t *testing.T) {
	chunks := []timeline.Chunk{
		chunk("later", 200, 215),
		chunk("earlier", 0, 15),
	}

	drafts := Build(chunks, settled, testParams)
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	if drafts[0].Chunks[0].ID != "earlier" {
		t.Errorf("first draft starts with %q, want earlier", drafts[0].Chunks[0].ID)
	}
}
