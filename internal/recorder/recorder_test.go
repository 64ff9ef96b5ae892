package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/carbondvr/carbon-dvr/internal/capture"
	"github.com/carbondvr/carbon-dvr/internal/filespec"
	"github.com/carbondvr/carbon-dvr/internal/store"
)

type fakeDriver struct {
	err   error
	calls []driverCall
}

type driverCall struct {
	major, minor int
	stop         time.Time
	dest, log    string
}

func (d *fakeDriver) Capture(_ context.Context, major, minor int, stop time.Time, dest, logPath string) error {
	d.calls = append(d.calls, driverCall{major, minor, stop, dest, logPath})
	return d.err
}

func newRecorder(t *testing.T, driver Driver) (*Recorder, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "dvr.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	if err := s.InsertShow(ctx, "s1", "EP", "Show One", ""); err != nil {
		t.Fatalf("InsertShow: %v", err)
	}
	if err := s.InsertEpisode(ctx, "s1", "e1", "Pilot", ""); err != nil {
		t.Fatalf("InsertEpisode: %v", err)
	}
	return &Recorder{
		Store:  s,
		Driver: driver,
		Paths: filespec.Paths{
			RawVideo:   filepath.Join(dir, "raw", "{recordingID}.ts"),
			CaptureLog: filepath.Join(dir, "raw", "{recordingID}.log"),
		},
	}, s
}

func testPlan(start time.Time) store.PlannedRecording {
	return store.PlannedRecording{
		ChannelMajor: 1, ChannelMinor: 1,
		StartTime: start, Duration: 30 * time.Second,
		ShowID: "s1", EpisodeID: "e1", RerunCode: "N",
	}
}

func TestCapture_success(t *testing.T) {
	driver := &fakeDriver{}
	r, s := newRecorder(t, driver)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	r.Capture(ctx, testPlan(start))

	if len(driver.calls) != 1 {
		t.Fatalf("driver calls = %d, want 1", len(driver.calls))
	}
	call := driver.calls[0]
	if call.major != 1 || call.minor != 1 {
		t.Errorf("tuned %d-%d, want 1-1", call.major, call.minor)
	}
	if !call.stop.Equal(start.Add(30 * time.Second)) {
		t.Errorf("stop = %v, want start+30s", call.stop)
	}
	if filepath.Base(call.dest) != "1.ts" || filepath.Base(call.log) != "1.log" {
		t.Errorf("templated paths = %q, %q", call.dest, call.log)
	}

	raw, err := s.AwaitingTranscode(ctx)
	if err != nil {
		t.Fatalf("AwaitingTranscode: %v", err)
	}
	if len(raw) != 1 || raw[0].RecordingID != 1 || raw[0].Filename != call.dest {
		t.Errorf("raw file rows = %+v, want {1 %s}", raw, call.dest)
	}
	if code, _ := s.CategoryCode(ctx, 1); code != "N" {
		t.Errorf("category = %q, want N", code)
	}
}

func TestCapture_failureLeavesNakedStub(t *testing.T) {
	driver := &fakeDriver{err: capture.ErrNoTuner}
	r, s := newRecorder(t, driver)
	ctx := context.Background()
	var observed error = errors.New("unset")
	r.OnResult = func(err error) { observed = err }

	r.Capture(ctx, testPlan(time.Now()))

	if !errors.Is(observed, capture.ErrNoTuner) {
		t.Errorf("observed outcome = %v, want ErrNoTuner", observed)
	}
	// Stub row exists but no raw file: the episode stays plannable.
	d, err := s.RecordingDuration(ctx, 1)
	if err != nil || d != 30*time.Second {
		t.Errorf("stub duration = %v, %v; want 30s", d, err)
	}
	awaiting, err := s.AwaitingTranscode(ctx)
	if err != nil {
		t.Fatalf("AwaitingTranscode: %v", err)
	}
	if len(awaiting) != 0 {
		t.Errorf("raw file row written for failed capture: %+v", awaiting)
	}
}

func TestCapture_successiveCapturesGetFreshIDs(t *testing.T) {
	driver := &fakeDriver{}
	r, _ := newRecorder(t, driver)
	ctx := context.Background()

	r.Capture(ctx, testPlan(time.Now()))
	r.Capture(ctx, testPlan(time.Now()))

	if len(driver.calls) != 2 {
		t.Fatalf("driver calls = %d", len(driver.calls))
	}
	if filepath.Base(driver.calls[0].dest) == filepath.Base(driver.calls[1].dest) {
		t.Errorf("both captures used %q", driver.calls[0].dest)
	}
}
