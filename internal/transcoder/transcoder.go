// Package transcoder re-encodes raw captures into the distribution format.
//
// The tick is single-flight and deliberately slow: one recording per tick, so
// a backlog drains at a bounded CPU cost and a stuck transcode never stacks
// subprocesses.
package transcoder

import (
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/carbondvr/carbon-dvr/internal/filespec"
	"github.com/carbondvr/carbon-dvr/internal/store"
)

// bitrateDivisor converts bytes-per-second to megabits-per-second.
const bitrateDivisor = 125000

// PresetCommands holds one command template per quality preset. Templates may
// use {recordingID} and {videoFile}.
type PresetCommands struct {
	Low    string
	Medium string
	High   string
}

// Transcoder drains the raw-capture backlog one recording per tick.
type Transcoder struct {
	Store      *store.Store
	Paths      filespec.Paths
	Commands   PresetCommands
	LocationID int

	// Run executes the expanded transcode command; nil means exec. Tests
	// substitute a fake.
	Run func(ctx context.Context, name string, args ...string) error

	// OnResult, when set, observes each transcode outcome.
	OnResult func(err error)

	inFlight atomic.Bool
}

// Tick transcodes the oldest raw capture that has no transcoded file. A tick
// that arrives while a previous one still runs returns immediately.
func (t *Transcoder) Tick(ctx context.Context) {
	if !t.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer t.inFlight.Store(false)

	pending, err := t.Store.AwaitingTranscode(ctx)
	if err != nil {
		log.Printf("transcoder: list pending: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	t.transcode(ctx, pending[0])
}

func (t *Transcoder) transcode(ctx context.Context, raw store.FileRef) {
	id := raw.RecordingID
	bitrate := t.measureBitrate(ctx, raw)
	template := t.presetCommand(bitrate)
	dest := t.Paths.TranscodedVideoPath(id)

	log.Printf("transcoder: recording %d: %s at %.1f Mb/s", id, raw.Filename, bitrate)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		log.Printf("transcoder: recording %d: prepare dirs: %v", id, err)
		t.observe(err)
		return
	}
	command := filespec.Expand(template, filespec.Vars{RecordingID: id, VideoFile: raw.Filename})
	fields := strings.Fields(command)
	if len(fields) == 0 {
		log.Printf("transcoder: recording %d: empty command template", id)
		return
	}

	state := store.TranscodeSuccessful
	if err := t.run(ctx, fields[0], fields[1:]...); err != nil {
		log.Printf("transcoder: recording %d: %v", id, err)
		state = store.TranscodeFailed
	}
	if err := t.Store.AttachTranscoded(ctx, id, t.LocationID, dest, state); err != nil {
		log.Printf("transcoder: recording %d: attach transcoded file: %v", id, err)
		t.observe(err)
		return
	}
	if state == store.TranscodeSuccessful {
		log.Printf("transcoder: recording %d: transcoded to %s", id, dest)
		t.observe(nil)
	} else {
		t.observe(errTranscodeExit)
	}
}

// measureBitrate estimates the raw capture's bitrate in Mb/s from its size
// and scheduled duration. Zero when either is unknown.
func (t *Transcoder) measureBitrate(ctx context.Context, raw store.FileRef) float64 {
	info, err := os.Stat(raw.Filename)
	if err != nil {
		log.Printf("transcoder: recording %d: stat raw file: %v", raw.RecordingID, err)
		return 0
	}
	duration, err := t.Store.RecordingDuration(ctx, raw.RecordingID)
	if err != nil {
		log.Printf("transcoder: recording %d: read duration: %v", raw.RecordingID, err)
		return 0
	}
	secs := duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(info.Size()) / secs / bitrateDivisor
}

// presetCommand maps a measured bitrate to a preset. Unknown bitrate gets the
// medium preset.
func (t *Transcoder) presetCommand(bitrateMbps float64) string {
	switch {
	case bitrateMbps == 0:
		return t.Commands.Medium
	case bitrateMbps < 3:
		return t.Commands.Low
	case bitrateMbps < 8:
		return t.Commands.Medium
	default:
		return t.Commands.High
	}
}

func (t *Transcoder) run(ctx context.Context, name string, args ...string) error {
	if t.Run != nil {
		return t.Run(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("transcoder: %s output:\n%s", name, out)
	}
	return err
}

func (t *Transcoder) observe(err error) {
	if t.OnResult != nil {
		t.OnResult(err)
	}
}

var errTranscodeExit = errors.New("transcoder: transcode command failed")
