package reaper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/carbondvr/carbon-dvr/internal/store"
)

func newReaper(t *testing.T) (*Reaper, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "dvr.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	if err := s.InsertShow(ctx, "s1", "EP", "Show One", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertEpisode(ctx, "s1", "e1", "Pilot", ""); err != nil {
		t.Fatal(err)
	}
	return &Reaper{Store: s}, s, dir
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTick_removesOrphansAndSuperseded(t *testing.T) {
	r, s, dir := newReaper(t)
	ctx := context.Background()

	// Recording 1: live, raw superseded by a successful transcode.
	if err := s.CreateRecording(ctx, 1, "s1", "e1", time.Minute, "N"); err != nil {
		t.Fatal(err)
	}
	raw1 := filepath.Join(dir, "1.ts")
	touch(t, raw1)
	if err := s.AttachRaw(ctx, 1, raw1); err != nil {
		t.Fatal(err)
	}
	transcoded1 := filepath.Join(dir, "1.mp4")
	touch(t, transcoded1)
	if err := s.AttachTranscoded(ctx, 1, 1, transcoded1, store.TranscodeSuccessful); err != nil {
		t.Fatal(err)
	}

	// Recording 2: deleted; its raw, transcoded, and bif rows are orphans.
	raw2 := filepath.Join(dir, "2.ts")
	transcoded2 := filepath.Join(dir, "2.mp4")
	bif2 := filepath.Join(dir, "2.bif")
	touch(t, raw2)
	touch(t, transcoded2)
	touch(t, bif2)
	if err := s.AttachRaw(ctx, 2, raw2); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachTranscoded(ctx, 2, 1, transcoded2, store.TranscodeFailed); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachBif(ctx, 2, 1, bif2); err != nil {
		t.Fatal(err)
	}

	r.Tick(ctx)

	for _, gone := range []string{raw1, raw2, transcoded2, bif2} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("%s still exists", gone)
		}
	}
	if _, err := os.Stat(transcoded1); err != nil {
		t.Errorf("live transcoded file removed: %v", err)
	}

	inc, err := s.FindInconsistencies(ctx)
	if err != nil {
		t.Fatalf("FindInconsistencies: %v", err)
	}
	if len(inc.FilesWithoutRecordings) != 0 {
		t.Errorf("orphans remain: %+v", inc.FilesWithoutRecordings)
	}
	if len(inc.ReclaimableRawFiles) != 0 {
		t.Errorf("superseded raw files remain: %+v", inc.ReclaimableRawFiles)
	}
}

func TestTick_missingFileStillClearsRow(t *testing.T) {
	r, s, _ := newReaper(t)
	ctx := context.Background()

	// File row points at a path that was never written.
	if err := s.AttachRaw(ctx, 3, "/nonexistent/3.ts"); err != nil {
		t.Fatal(err)
	}
	var removed []string
	r.OnRemoved = func(kind string) { removed = append(removed, kind) }

	r.Tick(ctx)

	orphans, err := s.OrphanRawFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orphans) != 0 {
		t.Errorf("row survived missing file: %+v", orphans)
	}
	if len(removed) != 1 || removed[0] != "raw" {
		t.Errorf("removed = %v", removed)
	}
}

func TestTick_idempotent(t *testing.T) {
	r, s, dir := newReaper(t)
	ctx := context.Background()
	raw := filepath.Join(dir, "9.ts")
	touch(t, raw)
	if err := s.AttachRaw(ctx, 9, raw); err != nil {
		t.Fatal(err)
	}

	r.Tick(ctx)
	r.Tick(ctx)

	orphans, err := s.OrphanRawFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orphans) != 0 {
		t.Errorf("orphans = %+v", orphans)
	}
}
