// Command carbon-dvr: personal DVR orchestration service.
//
//	run      Run the service: scheduler, pipeline ticks, and the JSON API. For systemd.
//	initdb   Create the database schema and exit.
//	version  Print the build version.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carbondvr/carbon-dvr/internal/api"
	"github.com/carbondvr/carbon-dvr/internal/bif"
	"github.com/carbondvr/carbon-dvr/internal/capture"
	"github.com/carbondvr/carbon-dvr/internal/config"
	"github.com/carbondvr/carbon-dvr/internal/metrics"
	"github.com/carbondvr/carbon-dvr/internal/reaper"
	"github.com/carbondvr/carbon-dvr/internal/recorder"
	"github.com/carbondvr/carbon-dvr/internal/scheduler"
	"github.com/carbondvr/carbon-dvr/internal/store"
	"github.com/carbondvr/carbon-dvr/internal/transcoder"
	"github.com/carbondvr/carbon-dvr/internal/tunerpool"
)

var version = "dev"

func main() {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runConfig := runCmd.String("config", "/etc/carbondvr/config.yaml", "path to the YAML config file")
	runEnvFile := runCmd.String("env-file", ".env", "optional KEY=value file loaded into the environment")

	initCmd := flag.NewFlagSet("initdb", flag.ExitOnError)
	initConfig := initCmd.String("config", "/etc/carbondvr/config.yaml", "path to the YAML config file")

	cmd, args := "run", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	switch cmd {
	case "run":
		runCmd.Parse(args)
		if err := config.LoadEnvFile(*runEnvFile); err != nil {
			log.Fatalf("load env file: %v", err)
		}
		cfg, err := config.Load(*runConfig)
		if err != nil {
			log.Fatal(err)
		}
		if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal(err)
		}
	case "initdb":
		initCmd.Parse(args)
		cfg, err := config.Load(*initConfig)
		if err != nil {
			log.Fatal(err)
		}
		s, err := store.Open(cfg.DatabasePath)
		if err != nil {
			log.Fatal(err)
		}
		s.Close()
		log.Printf("database ready at %s", cfg.DatabasePath)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "usage: carbon-dvr [run|initdb|version]\n")
		os.Exit(2)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer s.Close()

	tuners, err := s.Tuners(ctx)
	if err != nil {
		return err
	}
	channels, err := s.Channels(ctx)
	if err != nil {
		return err
	}
	if len(tuners) == 0 {
		log.Printf("main: no tuners configured; captures will fail until some are added")
	}
	pool := tunerpool.New(tuners)
	metrics.ObserveTunerPool(pool.Size, pool.Available)

	driver := &capture.Driver{
		Pool:     pool,
		Channels: capture.NewChannelMap(channels),
		Runner:   &capture.CLIRunner{Binary: cfg.CaptureBinary},
	}
	rec := &recorder.Recorder{
		Store:  s,
		Driver: driver,
		Paths:  cfg.FilePaths(),
		OnResult: func(err error) {
			metrics.Captures.WithLabelValues(metrics.Outcome(err)).Inc()
		},
	}
	trans := &transcoder.Transcoder{
		Store:      s,
		Paths:      cfg.FilePaths(),
		Commands:   cfg.PresetCommands(),
		LocationID: cfg.Transcode.LocationID,
		OnResult: func(err error) {
			metrics.Transcodes.WithLabelValues(metrics.Outcome(err)).Inc()
		},
	}
	bifs := &bif.Builder{
		Store:            s,
		Paths:            cfg.FilePaths(),
		ExtractorCommand: cfg.Bif.ExtractorCommand,
		FrameIntervalMS:  cfg.Bif.FrameIntervalMS,
		LocationID:       cfg.Bif.LocationID,
		OnResult: func(err error) {
			metrics.BifsBuilt.WithLabelValues(metrics.Outcome(err)).Inc()
		},
	}
	reap := &reaper.Reaper{
		Store: s,
		OnRemoved: func(kind string) {
			metrics.FilesReaped.WithLabelValues(kind).Inc()
		},
	}

	sched := scheduler.New(scheduler.Config{
		Store:     s,
		Recorder:  rec,
		Transcode: trans.Tick,
		Bif:       bifs.Tick,
		Reap:      reap.Tick,
		Window:    cfg.PlanWindow(),
	})

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.New(s, func(ctx context.Context) {
			metrics.PlanRuns.Inc()
			sched.Plan(ctx)
			metrics.PendingCaptures.Set(float64(len(sched.PendingCaptures())))
		}, cfg.RateLimit.PerSecond, cfg.RateLimit.Burst).Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("main: scheduler running, planning window %s", cfg.PlanWindow())
		return sched.Run(ctx)
	})
	g.Go(func() error {
		log.Printf("main: listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Printf("main: shut down")
	return err
}
