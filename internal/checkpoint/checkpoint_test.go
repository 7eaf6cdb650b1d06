package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s, dir
}

func TestLoadMissingReturnsZeroValue(t *testing.T) {
	s, _ := newTestStore(t)

	cp := s.Load("HADOOP")
	if !cp.LastUpdate.IsZero() {
		t.Fatalf("watermark = %v, want zero", cp.LastUpdate)
	}
	if len(cp.Processed) != 0 {
		t.Fatalf("processed set = %v, want empty", cp.Processed)
	}
}

func TestWatermarkIsMonotonic(t *testing.T) {
	s, _ := newTestStore(t)

	later := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	s.AdvanceWatermark("SPARK", later)
	s.AdvanceWatermark("SPARK", earlier)

	if got := s.Load("SPARK").LastUpdate; !got.Equal(later) {
		t.Fatalf("watermark = %v, want %v (never decreases)", got, later)
	}
}

func TestMarkProcessedIdempotent(t *testing.T) {
	s, _ := newTestStore(t)

	s.MarkProcessed("KAFKA", "KAFKA-1")
	s.MarkProcessed("KAFKA", "KAFKA-1")

	if n := len(s.Load("KAFKA").Processed); n != 1 {
		t.Fatalf("processed set size = %d, want 1", n)
	}
	if !s.IsProcessed("KAFKA", "KAFKA-1") {
		t.Fatal("KAFKA-1 should be processed")
	}
	if s.IsProcessed("KAFKA", "KAFKA-2") {
		t.Fatal("KAFKA-2 should not be processed")
	}
}

func TestFlushAndReload(t *testing.T) {
	s, dir := newTestStore(t)

	ts := time.Date(2024, 5, 10, 8, 30, 0, 0, time.UTC)
	s.MarkProcessed("HADOOP", "HADOOP-1")
	s.MarkProcessed("HADOOP", "HADOOP-2")
	s.AdvanceWatermark("HADOOP", ts)
	if err := s.Flush("HADOOP"); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Fresh store simulates a restart.
	s2, err := NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	cp := s2.Load("HADOOP")
	if !cp.LastUpdate.Equal(ts) {
		t.Fatalf("watermark after reload = %v, want %v", cp.LastUpdate, ts)
	}
	if !s2.IsProcessed("HADOOP", "HADOOP-1") || !s2.IsProcessed("HADOOP", "HADOOP-2") {
		t.Fatalf("processed set lost across reload: %v", cp.Processed)
	}
}

func TestCorruptCheckpointTreatedAsAbsent(t *testing.T) {
	s, dir := newTestStore(t)

	if err := os.WriteFile(filepath.Join(dir, "SPARK.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	cp := s.Load("SPARK")
	if !cp.LastUpdate.IsZero() || len(cp.Processed) != 0 {
		t.Fatalf("corrupt checkpoint must load as zero value, got %+v", cp)
	}
}

func TestInterruptedFlushLeavesPreviousStateIntact(t *testing.T) {
	s, dir := newTestStore(t)

	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s.MarkProcessed("HADOOP", "HADOOP-10")
	s.AdvanceWatermark("HADOOP", ts)
	if err := s.Flush("HADOOP"); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// A crash mid-flush leaves a partial temp file behind but never touches
	// the published checkpoint.
	if err := os.WriteFile(filepath.Join(dir, ".checkpoint-123456"), []byte(`{"last_update`), 0o644); err != nil {
		t.Fatalf("write partial temp file: %v", err)
	}

	s2, err := NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	cp := s2.Load("HADOOP")
	if !cp.LastUpdate.Equal(ts) {
		t.Fatalf("watermark = %v, want %v", cp.LastUpdate, ts)
	}
	if !s2.IsProcessed("HADOOP", "HADOOP-10") {
		t.Fatal("processed set lost after simulated crash")
	}
}

func TestFlushSafeToRepeat(t *testing.T) {
	s, _ := newTestStore(t)

	s.MarkProcessed("KAFKA", "KAFKA-7")
	for i := 0; i < 3; i++ {
		if err := s.Flush("KAFKA"); err != nil {
			t.Fatalf("flush %d: %v", i, err)
		}
	}
}
