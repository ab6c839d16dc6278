package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of the supervised child.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateBackoff  State = "backoff"
	StateFailed   State = "failed"
)

// Errors returned by Supervisor.
var (
	ErrNoCommand      = errors.New("process: command is required")
	ErrAlreadyRunning = errors.New("process: already running")
	ErrNotReady       = errors.New("process: child did not become ready")
)

// Defaults applied by NewSupervisor to zero Config fields.
const (
	DefaultRestartDelay    = 2 * time.Second
	DefaultMaxRestartDelay = 2 * time.Minute
	DefaultStopTimeout     = 10 * time.Second
	DefaultProbeInterval   = 30 * time.Second
	DefaultReadyTimeout    = 2 * time.Minute

	// readyPoll is how often Start probes while waiting for readiness.
	readyPoll = 500 * time.Millisecond

	// maxProbeFailures is how many consecutive failed probes kill the child.
	maxProbeFailures = 3

	probeTimeout = 5 * time.Second
)

// Config describes the supervised child.
type Config struct {
	// Name is used in logs and Stats.
	Name string

	// Command is the executable followed by its arguments.
	Command []string

	// Env is appended to the parent environment.
	Env []string

	// WorkDir is the child's working directory. Empty inherits ours.
	WorkDir string

	// RestartDelay is the first backoff after a crash. It doubles per
	// consecutive crash up to MaxRestartDelay and resets once the child
	// has been ready for MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestarts bounds consecutive restarts. 0 means unlimited.
	MaxRestarts int

	// StopTimeout is the SIGTERM grace period before SIGKILL.
	StopTimeout time.Duration

	// Probe reports whether the child is serving. Nil treats a running
	// child as ready.
	Probe func(ctx context.Context) error

	// ProbeInterval is the watchdog period once the child is ready.
	ProbeInterval time.Duration

	// ReadyTimeout bounds how long Start waits for the first good probe.
	// Loading a model can take a while.
	ReadyTimeout time.Duration
}

// Logger is the logging surface the supervisor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats is a snapshot of the supervisor for the debug endpoint.
type Stats struct {
	Name       string    `json:"name"`
	State      State     `json:"state"`
	PID        int       `json:"pid,omitempty"`
	Restarts   int       `json:"restarts"`
	ReadySince time.Time `json:"ready_since,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Supervisor runs one child process and keeps it alive.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu         sync.RWMutex
	cmd        *exec.Cmd
	exited     chan error // receives the current child's Wait result
	state      State
	restarts   int
	readySince time.Time
	lastErr    error
	stopping   bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSupervisor applies defaults to cfg. The child is not started.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.Name == "" && len(cfg.Command) > 0 {
		cfg.Name = cfg.Command[0]
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = DefaultMaxRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	return &Supervisor{cfg: cfg, logger: noopLogger{}, state: StateStopped}
}

// SetLogger sets the logger. Child output is logged at debug level.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches the child and blocks until its probe passes, the ready
// timeout expires or ctx is cancelled. On success a background loop keeps
// the child alive until Stop.
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.cfg.Command) == 0 || s.cfg.Command[0] == "" {
		return ErrNoCommand
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopping = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.launch(runCtx); err != nil {
		s.abort(err)
		return err
	}
	if err := s.waitReady(ctx); err != nil {
		s.kill()
		s.abort(err)
		return err
	}

	go s.supervise(runCtx)
	return nil
}

// abort resets the supervisor after a failed Start.
func (s *Supervisor) abort(err error) {
	s.mu.Lock()
	s.cancel()
	close(s.done)
	s.done = nil
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Supervisor) launch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.cfg.Command[0], s.cfg.Command[1:]...) //nolint:gosec // command comes from the operator's config file
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Dir = s.cfg.WorkDir
	// Cancelling ctx asks the whole group to stop; Wait kills the leader
	// if it is still around after StopTimeout.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.StopTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.cfg.Name, err)
	}

	exited := make(chan error, 1)
	go s.logLines("stdout", stdout)
	go s.logLines("stderr", stderr)
	go func() { exited <- cmd.Wait() }()

	s.mu.Lock()
	s.cmd = cmd
	s.exited = exited
	s.state = StateStarting
	s.mu.Unlock()

	s.logger.Info("child started", "name", s.cfg.Name, "pid", cmd.Process.Pid)
	return nil
}

func (s *Supervisor) logLines(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("child output", "name", s.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

// waitReady polls the probe until it passes or the child exits.
func (s *Supervisor) waitReady(ctx context.Context) error {
	s.mu.RLock()
	exited := s.exited
	s.mu.RUnlock()

	if s.cfg.Probe == nil {
		s.markReady()
		return nil
	}

	deadline := time.NewTimer(s.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPoll)
	defer tick.Stop()

	for {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := s.cfg.Probe(pctx)
		cancel()
		if err == nil {
			s.markReady()
			return nil
		}

		select {
		case werr := <-exited:
			// Put it back for supervise or Stop.
			exited <- werr
			return fmt.Errorf("%w: %s exited: %v", ErrNotReady, s.cfg.Name, werr)
		case <-deadline.C:
			return fmt.Errorf("%w: %s after %v: %v", ErrNotReady, s.cfg.Name, s.cfg.ReadyTimeout, err)
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (s *Supervisor) markReady() {
	s.mu.Lock()
	s.state = StateReady
	s.readySince = time.Now()
	s.mu.Unlock()
	s.logger.Info("child ready", "name", s.cfg.Name)
}

// supervise waits for the child to die and restarts it with backoff.
func (s *Supervisor) supervise(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
	}()

	delay := s.cfg.RestartDelay
	consecutive := 0

	for {
		err := s.watch(ctx)

		s.mu.Lock()
		stopping := s.stopping
		readyFor := time.Duration(0)
		if !s.readySince.IsZero() {
			readyFor = time.Since(s.readySince)
		}
		s.readySince = time.Time{}
		if stopping {
			s.state = StateStopped
			s.mu.Unlock()
			s.kill() // sweep anything left in the group
			return
		}
		s.lastErr = err
		s.mu.Unlock()

		// A child that stayed up long enough earns a fresh backoff.
		if readyFor >= s.cfg.MaxRestartDelay {
			delay = s.cfg.RestartDelay
			consecutive = 0
		}
		consecutive++

		if s.cfg.MaxRestarts > 0 && consecutive > s.cfg.MaxRestarts {
			s.logger.Error("child keeps failing, giving up", "name", s.cfg.Name, "restarts", consecutive-1, "error", err)
			s.setState(StateFailed)
			return
		}

		s.logger.Warn("child exited, restarting", "name", s.cfg.Name, "error", err, "delay", delay)
		s.setState(StateBackoff)

		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, s.cfg.MaxRestartDelay)

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()

		if err := s.launch(ctx); err != nil {
			s.logger.Error("restart failed", "name", s.cfg.Name, "error", err)
			s.mu.Lock()
			// Feed the launch failure back into the loop as an exit.
			exited := make(chan error, 1)
			exited <- err
			s.exited = exited
			s.mu.Unlock()
			continue
		}
		if err := s.waitReady(ctx); err != nil {
			s.logger.Warn("restarted child not ready", "name", s.cfg.Name, "error", err)
			s.kill()
		}
	}
}

// watch blocks until the child exits. While it runs the probe is checked
// every ProbeInterval and the child is killed after maxProbeFailures
// consecutive failures.
func (s *Supervisor) watch(ctx context.Context) error {
	s.mu.RLock()
	exited := s.exited
	s.mu.RUnlock()

	if s.cfg.Probe == nil {
		return <-exited
	}

	tick := time.NewTicker(s.cfg.ProbeInterval)
	defer tick.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		case <-tick.C:
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := s.cfg.Probe(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			s.logger.Warn("child probe failed", "name", s.cfg.Name, "error", err, "consecutive", failures)
			if failures >= maxProbeFailures {
				s.logger.Error("child unresponsive, killing", "name", s.cfg.Name)
				s.kill()
				werr := <-exited
				return fmt.Errorf("killed after %d failed probes: %v", failures, werr)
			}
		}
	}
}

// Stop terminates the child: SIGTERM to its process group, SIGKILL after
// StopTimeout. It returns once the supervise loop has exited.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	done := s.done
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.done = nil
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("child stopped", "name", s.cfg.Name)
	return nil
}

// kill sends SIGKILL to the child's process group.
func (s *Supervisor) kill() {
	s.mu.RLock()
	cmd := s.cmd
	s.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("killing child failed", "name", s.cfg.Name, "error", err)
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the child passed its last readiness check and has
// not exited since.
func (s *Supervisor) Ready() bool {
	return s.State() == StateReady
}

// Stats returns a snapshot for the debug endpoint.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:       s.cfg.Name,
		State:      s.state,
		Restarts:   s.restarts,
		ReadySince: s.readySince,
	}
	if s.cmd != nil && s.cmd.Process != nil && s.state != StateStopped {
		st.PID = s.cmd.Process.Pid
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
