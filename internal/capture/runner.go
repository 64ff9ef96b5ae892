package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// CLIRunner runs the real tuner-control binary. All subprocess output is
// appended to the capture's log file so a bad airing can be diagnosed after
// the fact.
type CLIRunner struct {
	Binary string
}

func (r *CLIRunner) Run(ctx context.Context, logPath string, args ...string) error {
	logFile, err := openLog(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", r.Binary, args, err)
	}
	return nil
}

func (r *CLIRunner) Start(ctx context.Context, logPath string, args ...string) (Process, error) {
	logFile, err := openLog(logPath)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("%s %v: %w", r.Binary, args, err)
	}
	return &cliProcess{cmd: cmd, log: logFile}, nil
}

type cliProcess struct {
	cmd *exec.Cmd
	log *os.File
}

func (p *cliProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

func (p *cliProcess) Wait() error {
	defer p.log.Close()
	return p.cmd.Wait()
}

func openLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture log: %w", err)
	}
	return f, nil
}
