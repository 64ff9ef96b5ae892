package bif

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/carbondvr/carbon-dvr/internal/filespec"
	"github.com/carbondvr/carbon-dvr/internal/store"
)

// Builder generates thumbnail indexes for transcoded recordings, one per
// tick.
type Builder struct {
	Store            *store.Store
	Paths            filespec.Paths
	ExtractorCommand string
	FrameIntervalMS  int
	LocationID       int

	// Run executes the expanded extractor command; nil means exec.
	Run func(ctx context.Context, name string, args ...string) error

	// OnResult, when set, observes each build outcome.
	OnResult func(err error)

	inFlight atomic.Bool
}

// Tick builds the thumbnail index for the oldest successfully transcoded
// recording that has none. Single-flight; an overlapping tick returns
// immediately.
func (b *Builder) Tick(ctx context.Context) {
	if !b.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer b.inFlight.Store(false)

	pending, err := b.Store.AwaitingBif(ctx)
	if err != nil {
		log.Printf("bif: list pending: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	if err := b.build(ctx, pending[0]); err != nil {
		log.Printf("bif: recording %d: %v", pending[0].RecordingID, err)
		b.observe(err)
		return
	}
	b.observe(nil)
}

func (b *Builder) build(ctx context.Context, video store.FileRef) error {
	id := video.RecordingID
	imageDir := b.Paths.ImageDirPath(id)
	dest := b.Paths.BifPath(id)

	if err := clearImages(imageDir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("prepare bif dir: %w", err)
	}

	// Extraction rate in frames per second for one frame per interval.
	fps := strconv.FormatFloat(1000/float64(b.FrameIntervalMS), 'f', -1, 64)
	command := filespec.Expand(b.ExtractorCommand, filespec.Vars{
		RecordingID:     id,
		VideoFile:       video.Filename,
		FramesPerSecond: fps,
		ImageDir:        imageDir,
	})
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("empty extractor command")
	}
	if err := b.run(ctx, fields[0], fields[1:]...); err != nil {
		return fmt.Errorf("extract frames: %w", err)
	}

	frames, err := renumberFrames(imageDir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("extractor produced no frames in %s", imageDir)
	}
	if err := EncodeFile(dest, uint32(b.FrameIntervalMS), frames); err != nil {
		return err
	}
	if err := b.Store.AttachBif(ctx, id, b.LocationID, dest); err != nil {
		return fmt.Errorf("attach bif file: %w", err)
	}
	log.Printf("bif: recording %d: %d frames indexed to %s", id, len(frames), dest)
	return clearImages(imageDir)
}

// renumberFrames renames the extractor's 1-indexed output to a contiguous
// 0-indexed sequence and returns the renamed paths in order. Clients treat
// index 0 as the first frame; extractors start at 1.
func renumberFrames(dir string) ([]string, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(entries)
	out := make([]string, len(entries))
	for i, src := range entries {
		dst := filepath.Join(dir, fmt.Sprintf("%08d.jpg", i))
		if src != dst {
			if err := os.Rename(src, dst); err != nil {
				return nil, fmt.Errorf("renumber frame: %w", err)
			}
		}
		out[i] = dst
	}
	return out, nil
}

// clearImages empties and recreates the working frame directory.
func clearImages(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear image dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	return nil
}

func (b *Builder) run(ctx context.Context, name string, args ...string) error {
	if b.Run != nil {
		return b.Run(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("bif: %s output:\n%s", name, out)
	}
	return err
}

func (b *Builder) observe(err error) {
	if b.OnResult != nil {
		b.OnResult(err)
	}
}
