// Package recorder turns a planned airing into a capture attempt: it
// allocates the recording identity, writes the stub row, drives the capture,
// and records the output file on success.
package recorder

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/carbondvr/carbon-dvr/internal/filespec"
	"github.com/carbondvr/carbon-dvr/internal/store"
)

// Driver captures one channel until the stop time. Satisfied by
// capture.Driver.
type Driver interface {
	Capture(ctx context.Context, major, minor int, stopTime time.Time, destPath, logPath string) error
}

// Recorder glues the scheduler's fired capture jobs to the capture driver.
type Recorder struct {
	Store  *store.Store
	Driver Driver
	Paths  filespec.Paths

	// OnResult, when set, observes each capture outcome (nil error on
	// success). Used for metrics.
	OnResult func(err error)
}

// Capture runs one planned recording to completion. Errors are logged, not
// returned: a failed capture leaves only the recording stub behind, and the
// next planning cycle picks up a later airing of the episode if one exists.
func (r *Recorder) Capture(ctx context.Context, plan store.PlannedRecording) {
	id, err := r.Store.AllocateRecordingID(ctx)
	if err != nil {
		log.Printf("recorder: allocate id for %s/%s: %v", plan.ShowID, plan.EpisodeID, err)
		r.observe(err)
		return
	}
	dest := r.Paths.RawVideoPath(id)
	logPath := r.Paths.CaptureLogPath(id)
	stop := plan.StartTime.Add(plan.Duration)

	log.Printf("recorder: recording %d: %s/%s on %d-%d until %s",
		id, plan.ShowID, plan.EpisodeID, plan.ChannelMajor, plan.ChannelMinor,
		stop.UTC().Format(time.RFC3339))

	if err := r.Store.CreateRecording(ctx, id, plan.ShowID, plan.EpisodeID, plan.Duration, plan.RerunCode); err != nil {
		log.Printf("recorder: recording %d: create stub: %v", id, err)
		r.observe(err)
		return
	}
	for _, p := range []string{dest, logPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			log.Printf("recorder: recording %d: prepare dirs: %v", id, err)
			r.observe(err)
			return
		}
	}

	if err := r.Driver.Capture(ctx, plan.ChannelMajor, plan.ChannelMinor, stop, dest, logPath); err != nil {
		log.Printf("recorder: recording %d: %v", id, err)
		r.observe(err)
		return
	}
	if err := r.Store.AttachRaw(ctx, id, dest); err != nil {
		log.Printf("recorder: recording %d: attach raw file: %v", id, err)
		r.observe(err)
		return
	}
	log.Printf("recorder: recording %d: captured to %s", id, dest)
	r.observe(nil)
}

func (r *Recorder) observe(err error) {
	if r.OnResult != nil {
		r.OnResult(err)
	}
}
