// Package capture drives the external tuner-control binary through one
// recording window: tune, stream to disk, terminate at the stop time, and
// validate the result.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/carbondvr/carbon-dvr/internal/store"
	"github.com/carbondvr/carbon-dvr/internal/tunerpool"
)

// Capture outcomes. UnknownChannel and NoTuner abandon the airing without
// retry; CaptureFailed means the subprocess ran but produced no usable file.
var (
	ErrUnknownChannel = errors.New("capture: unknown channel")
	ErrNoTuner        = errors.New("capture: no tuner available")
	ErrCaptureFailed  = errors.New("capture: capture failed")
)

// minCaptureBytes is the smallest output accepted as a real capture. Anything
// under 10 MB is a tuner that never locked onto the program.
const minCaptureBytes = 10 * 1024 * 1024

// Process is a started, long-running capture subprocess.
type Process interface {
	Signal(sig os.Signal) error
	Wait() error
}

// Runner abstracts the tuner-control binary so tests can substitute a fake.
type Runner interface {
	// Run executes one short control command and waits for it.
	Run(ctx context.Context, logPath string, args ...string) error
	// Start launches the streaming save command and returns without waiting.
	Start(ctx context.Context, logPath string, args ...string) (Process, error)
}

// ChannelMap resolves a display channel to its tuning parameters.
type ChannelMap map[ChannelID]store.Channel

// ChannelID is the display identity of a channel.
type ChannelID struct {
	Major int
	Minor int
}

// NewChannelMap indexes the store's channel rows for lookup by display number.
func NewChannelMap(channels []store.Channel) ChannelMap {
	m := make(ChannelMap, len(channels))
	for _, c := range channels {
		m[ChannelID{c.Major, c.Minor}] = c
	}
	return m
}

// Driver is a stateless façade over the capture binary. Safe for concurrent
// use; the tuner pool serializes resource contention.
type Driver struct {
	Pool     *tunerpool.Pool
	Channels ChannelMap
	Runner   Runner

	// Now and Sleep are clock hooks for tests; nil means real time.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

func (d *Driver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) {
	if d.Sleep != nil {
		d.Sleep(ctx, dur)
		return
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Capture records channel major-minor until stopTime into destPath, appending
// subprocess output to logPath. The tuner is released before return no matter
// how the capture ends.
func (d *Driver) Capture(ctx context.Context, major, minor int, stopTime time.Time, destPath, logPath string) error {
	ch, ok := d.Channels[ChannelID{major, minor}]
	if !ok {
		return fmt.Errorf("%w: %d-%d", ErrUnknownChannel, major, minor)
	}
	tuner, ok := d.Pool.Acquire()
	if !ok {
		return fmt.Errorf("%w: channel %d-%d", ErrNoTuner, major, minor)
	}
	defer d.Pool.Release(tuner)

	prefix := fmt.Sprintf("/tuner%d", tuner.Index)
	if err := d.Runner.Run(ctx, logPath, tuner.IP, "set", prefix+"/channel", fmt.Sprint(ch.Actual)); err != nil {
		return fmt.Errorf("%w: set channel: %v", ErrCaptureFailed, err)
	}
	if err := d.Runner.Run(ctx, logPath, tuner.IP, "set", prefix+"/program", fmt.Sprint(ch.Program)); err != nil {
		return fmt.Errorf("%w: set program: %v", ErrCaptureFailed, err)
	}
	// Status is diagnostic only; a failed query does not abort the capture.
	if err := d.Runner.Run(ctx, logPath, tuner.IP, "get", prefix+"/status"); err != nil {
		log.Printf("capture: status query on %s%s: %v", tuner.IP, prefix, err)
	}

	proc, err := d.Runner.Start(ctx, logPath, tuner.IP, "save", prefix, destPath)
	if err != nil {
		return fmt.Errorf("%w: start save: %v", ErrCaptureFailed, err)
	}
	if remaining := stopTime.Sub(d.now()); remaining > 0 {
		d.sleep(ctx, remaining)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Printf("capture: terminate save on %s%s: %v", tuner.IP, prefix, err)
	}
	if err := proc.Wait(); err != nil && !exitBySignal(err) {
		log.Printf("capture: save exit on %s%s: %v", tuner.IP, prefix, err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return fmt.Errorf("%w: no output file: %v", ErrCaptureFailed, err)
	}
	if info.Size() < minCaptureBytes {
		return fmt.Errorf("%w: output %d bytes, need %d", ErrCaptureFailed, info.Size(), int64(minCaptureBytes))
	}
	return nil
}

// exitBySignal reports whether err is the expected nonzero exit of a child we
// just signalled.
func exitBySignal(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee)
}
