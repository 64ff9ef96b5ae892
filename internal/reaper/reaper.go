// Package reaper reconciles the file-location tables against the recording
// table and removes files the pipeline no longer needs.
package reaper

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/carbondvr/carbon-dvr/internal/store"
)

// Reaper removes orphaned and superseded files. Each tick runs under a lock;
// a tick arriving while one is in flight returns immediately.
type Reaper struct {
	Store *store.Store

	// OnRemoved, when set, observes each removed file row.
	OnRemoved func(kind string)

	mu      sync.Mutex
	running bool
}

// Tick runs the four reconciliation passes in order: orphaned raw files,
// orphaned transcoded files, orphaned bif files, then raw files superseded by
// a successful transcode. Pass errors are logged and the remaining passes
// still run.
func (r *Reaper) Tick(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.pass(ctx, "raw", r.Store.OrphanRawFiles, r.Store.DeleteRawFile)
	r.pass(ctx, "transcoded", r.Store.OrphanTranscodedFiles, r.Store.DeleteTranscodedFile)
	r.pass(ctx, "bif", r.Store.OrphanBifFiles, r.Store.DeleteBifFile)
	r.pass(ctx, "superseded raw", r.Store.SupersededRawFiles, r.Store.DeleteRawFile)
}

func (r *Reaper) pass(ctx context.Context,
	kind string,
	list func(context.Context) ([]store.FileRef, error),
	deleteRow func(context.Context, int64) error,
) {
	refs, err := list(ctx)
	if err != nil {
		log.Printf("reaper: list %s files: %v", kind, err)
		return
	}
	for _, ref := range refs {
		// Missing files are fine; a previous tick may have removed the
		// file but crashed before the row.
		if err := os.Remove(ref.Filename); err != nil && !os.IsNotExist(err) {
			log.Printf("reaper: remove %s file %s: %v", kind, ref.Filename, err)
			continue
		}
		if err := deleteRow(ctx, ref.RecordingID); err != nil {
			log.Printf("reaper: delete %s row %d: %v", kind, ref.RecordingID, err)
			continue
		}
		log.Printf("reaper: removed %s file %s (recording %d)", kind, ref.Filename, ref.RecordingID)
		if r.OnRemoved != nil {
			r.OnRemoved(kind)
		}
	}
}
