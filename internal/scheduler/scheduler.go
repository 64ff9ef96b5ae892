// Package scheduler is the timer service that drives the DVR pipeline:
// periodic replanning of the capture window, one-shot capture jobs armed at
// airing start times, and the transcode, bif, and reap ticks.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/carbondvr/carbon-dvr/internal/store"
)

// Default cadence. Planning runs at fixed UTC times so the schedule lands
// shortly after the nightly guide refresh.
var defaultPlanTimes = []planTime{{0, 40}, {6, 40}, {12, 40}, {18, 40}}

const (
	defaultWindow       = 12 * time.Hour
	defaultCaptureGrace = 60 * time.Second
	defaultPlanGrace    = 600 * time.Second
	defaultPipelineTick = 60 * time.Second
	defaultReapTick     = 60 * time.Minute
)

type planTime struct {
	hour, minute int
}

// Recorder runs one planned capture to completion.
type Recorder interface {
	Capture(ctx context.Context, plan store.PlannedRecording)
}

// Scheduler owns all timers. Construct with New, then Run.
type Scheduler struct {
	store    *store.Store
	recorder Recorder

	// Pipeline tick callbacks; each is single-flight on its own side.
	transcodeTick func(ctx context.Context)
	bifTick       func(ctx context.Context)
	reapTick      func(ctx context.Context)

	window       time.Duration
	captureGrace time.Duration
	planGrace    time.Duration
	pipelineTick time.Duration
	reapInterval time.Duration

	now func() time.Time

	// planMu serializes plan() with itself. Capture firing is deliberately
	// not serialized with planning; a fired job is already out of the
	// pending set.
	planMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]*captureJob // by schedule id
	fireCtx context.Context

	captures sync.WaitGroup
}

// Config wires a Scheduler. Zero durations take the defaults.
type Config struct {
	Store     *store.Store
	Recorder  Recorder
	Transcode func(ctx context.Context)
	Bif       func(ctx context.Context)
	Reap      func(ctx context.Context)

	Window       time.Duration
	CaptureGrace time.Duration
	PlanGrace    time.Duration
	PipelineTick time.Duration
	ReapInterval time.Duration
	Now          func() time.Time
}

func New(cfg Config) *Scheduler {
	s := &Scheduler{
		store:         cfg.Store,
		recorder:      cfg.Recorder,
		transcodeTick: cfg.Transcode,
		bifTick:       cfg.Bif,
		reapTick:      cfg.Reap,
		window:        cfg.Window,
		captureGrace:  cfg.CaptureGrace,
		planGrace:     cfg.PlanGrace,
		pipelineTick:  cfg.PipelineTick,
		reapInterval:  cfg.ReapInterval,
		now:           cfg.Now,
		pending:       make(map[int64]*captureJob),
		fireCtx:       context.Background(),
	}
	if s.window == 0 {
		s.window = defaultWindow
	}
	if s.captureGrace == 0 {
		s.captureGrace = defaultCaptureGrace
	}
	if s.planGrace == 0 {
		s.planGrace = defaultPlanGrace
	}
	if s.pipelineTick == 0 {
		s.pipelineTick = defaultPipelineTick
	}
	if s.reapInterval == 0 {
		s.reapInterval = defaultReapTick
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run plans once immediately, then fires the planning schedule and pipeline
// ticks until ctx is cancelled. On return all pending capture timers are
// disarmed and running captures have been joined.
func (s *Scheduler) Run(ctx context.Context) error {
	// Fired jobs outlive the request or loop that armed them; they stop
	// with the service.
	s.mu.Lock()
	s.fireCtx = ctx
	s.mu.Unlock()

	s.Plan(ctx)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.runPlanLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.runTicker(ctx, s.pipelineTick, func() {
			if s.transcodeTick != nil {
				s.transcodeTick(ctx)
			}
			if s.bifTick != nil {
				s.bifTick(ctx)
			}
		})
	}()
	go func() {
		defer wg.Done()
		s.runTicker(ctx, s.reapInterval, func() {
			if s.reapTick != nil {
				s.reapTick(ctx)
			}
		})
	}()

	<-ctx.Done()
	s.cancelPending()
	wg.Wait()
	s.captures.Wait()
	return ctx.Err()
}

func (s *Scheduler) runTicker(ctx context.Context, interval time.Duration, fire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		}
	}
}

func (s *Scheduler) runPlanLoop(ctx context.Context) {
	for {
		next := nextPlanTime(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if late := s.now().Sub(next); late > s.planGrace {
			log.Printf("scheduler: planning slot %s missed by %s, skipping", next.Format(time.RFC3339), late)
			continue
		}
		s.Plan(ctx)
	}
}

// nextPlanTime returns the first planning slot strictly after now.
func nextPlanTime(now time.Time) time.Time {
	now = now.UTC()
	for _, pt := range defaultPlanTimes {
		slot := time.Date(now.Year(), now.Month(), now.Day(), pt.hour, pt.minute, 0, 0, time.UTC)
		if slot.After(now) {
			return slot
		}
	}
	first := defaultPlanTimes[0]
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), first.hour, first.minute, 0, 0, time.UTC)
}

// Plan rebuilds the pending capture-job set from the schedule: every pending
// job is removed, then one job is armed per episode due inside the planning
// window. Serialized with itself; safe to call from the admin surface.
func (s *Scheduler) Plan(ctx context.Context) {
	s.planMu.Lock()
	defer s.planMu.Unlock()

	s.cancelPending()

	now := s.now()
	plans, err := s.store.PendingRecordings(ctx, now, s.window)
	if err != nil {
		log.Printf("scheduler: plan: %v", err)
		return
	}
	for _, plan := range plans {
		s.arm(plan)
	}
	log.Printf("scheduler: planned %d capture(s) in the next %s", len(plans), s.window)
}

// PendingCaptures returns the schedule ids of the armed capture jobs, for the
// admin surface and tests.
func (s *Scheduler) PendingCaptures() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.pending))
	for id := range s.pending {
		out = append(out, id)
	}
	return out
}

type captureJob struct {
	plan  store.PlannedRecording
	timer *time.Timer

	// cancelled and fired are guarded by Scheduler.mu, so the fire-or-cancel
	// decision and the in-flight count move together under one lock.
	cancelled bool
	fired     bool
}

func (s *Scheduler) arm(plan store.PlannedRecording) {
	job := &captureJob{plan: plan}
	s.mu.Lock()
	s.pending[plan.ScheduleID] = job
	job.timer = time.AfterFunc(plan.StartTime.Sub(s.now()), func() { s.fire(job) })
	s.mu.Unlock()
}

func (s *Scheduler) fire(job *captureJob) {
	s.mu.Lock()
	if job.cancelled {
		s.mu.Unlock()
		return
	}
	job.fired = true
	delete(s.pending, job.plan.ScheduleID)
	ctx := s.fireCtx
	// Counted before the lock drops: a concurrent cancelPending+Wait either
	// sees the job still unfired or waits for this capture to finish.
	s.captures.Add(1)
	s.mu.Unlock()
	defer s.captures.Done()

	if late := s.now().Sub(job.plan.StartTime); late > s.captureGrace {
		log.Printf("scheduler: capture for %s/%s missed by %s, dropping",
			job.plan.ShowID, job.plan.EpisodeID, late)
		return
	}
	s.recorder.Capture(ctx, job.plan)
}

// cancelPending disarms every job that has not fired. A job mid-fire keeps
// running; it is no longer pending.
func (s *Scheduler) cancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.pending {
		if !job.fired {
			job.cancelled = true
			job.timer.Stop()
		}
	}
	s.pending = make(map[int64]*captureJob)
}
