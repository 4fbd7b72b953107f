package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sevenzd/sevenzd/internal/log"
	"github.com/sevenzd/sevenzd/internal/model"
)

// killGracePeriod bounds how long Wait may block after the process has
// been signalled (e.g. on inherited pipes held by grandchildren).
const killGracePeriod = 5 * time.Second

// ExecRunnerConfig is the configuration for the exec runner.
type ExecRunnerConfig struct {
	// MaxConcurrent is how many child processes may run at once.
	MaxConcurrent int
	// Queue selects what happens at the limit: reject or wait.
	Queue model.QueuePolicy
	// QueueWait bounds the wait when Queue is "wait".
	QueueWait time.Duration
	// MaxOutputBytes bounds captured stdout/stderr per stream.
	MaxOutputBytes int
	Logger         log.Logger
}

func (c *ExecRunnerConfig) defaults() error {
	def := model.DefaultPolicy()
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	if c.Queue == "" {
		c.Queue = model.QueuePolicyReject
	}
	if c.Queue != model.QueuePolicyReject && c.Queue != model.QueuePolicyWait {
		return fmt.Errorf("unknown queue policy %q", c.Queue)
	}
	if c.Queue == model.QueuePolicyWait && c.QueueWait <= 0 {
		return fmt.Errorf("queue wait must be positive with the wait policy")
	}
	if c.MaxOutputBytes == 0 {
		c.MaxOutputBytes = def.MaxOutputBytes
	}
	if c.MaxOutputBytes < 0 {
		return fmt.Errorf("max output bytes must be positive")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "process.ExecRunner"})
	return nil
}

// ExecRunner runs invocations with os/exec. Concurrent runs are
// independent, the only shared state is the counting semaphore.
type ExecRunner struct {
	sem            chan struct{}
	queue          model.QueuePolicy
	queueWait      time.Duration
	maxOutputBytes int
	logger         log.Logger
}

// NewExecRunner creates a new exec runner.
func NewExecRunner(cfg ExecRunnerConfig) (*ExecRunner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &ExecRunner{
		sem:            make(chan struct{}, cfg.MaxConcurrent),
		queue:          cfg.Queue,
		queueWait:      cfg.QueueWait,
		maxOutputBytes: cfg.MaxOutputBytes,
		logger:         cfg.Logger,
	}, nil
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, inv model.Invocation, timeout time.Duration) (*model.ProcessOutcome, error) {
	if len(inv.Args) == 0 {
		return nil, fmt.Errorf("argument vector cannot be empty: %w", model.ErrNotValid)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive: %w", model.ErrNotValid)
	}

	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newBoundedBuffer(r.maxOutputBytes)
	stderr := newBoundedBuffer(r.maxOutputBytes)

	cmd := exec.CommandContext(runCtx, inv.Args[0], inv.Args[1:]...)
	cmd.Dir = inv.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = killGracePeriod
	setProcessGroup(cmd)

	r.logger.Debugf("Running %v (dir=%q, timeout=%s)", inv.Args, inv.Dir, timeout)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	outcome := &model.ProcessOutcome{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: elapsed,
		TimedOut: timedOut,
	}

	if timedOut {
		outcome.ExitCode = -1
		r.logger.Warningf("Process %s exceeded its %s budget, killed", inv.Args[0], timeout)
		return outcome, fmt.Errorf("%s exceeded its %s budget: %w", inv.Args[0], timeout, model.ErrProcessTimeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
			return outcome, fmt.Errorf("%s exited with code %d: %s: %w",
				inv.Args[0], outcome.ExitCode, summarize(outcome.Stderr), model.ErrProcessFailure)
		}
		// Could not spawn at all. This is as close to fatal as the runner
		// gets, it is logged loudly but still reported as a structured error.
		r.logger.Errorf("Could not spawn %s: %v", inv.Args[0], err)
		return nil, fmt.Errorf("could not spawn %s: %v: %w", inv.Args[0], err, model.ErrProcessFailure)
	}

	return outcome, nil
}

func (r *ExecRunner) acquire(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
		return nil
	default:
	}

	if r.queue == model.QueuePolicyReject {
		return fmt.Errorf("%d jobs already running: %w", cap(r.sem), model.ErrBackpressure)
	}

	wait := time.NewTimer(r.queueWait)
	defer wait.Stop()

	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cancelled while queued: %w", ctx.Err())
	case <-wait.C:
		return fmt.Errorf("still %d jobs running after queueing %s: %w", cap(r.sem), r.queueWait, model.ErrBackpressure)
	}
}

func (r *ExecRunner) release() {
	<-r.sem
}

func summarize(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return "no stderr output"
	}
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
