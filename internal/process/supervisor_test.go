package process

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNewSupervisor_Defaults(t *testing.T) {
	s := NewSupervisor(Config{Command: []string{"/usr/bin/vision-server", "--port", "8000"}})

	if s.cfg.Name != "/usr/bin/vision-server" {
		t.Errorf("Name = %q, want the binary", s.cfg.Name)
	}
	if s.cfg.RestartDelay != DefaultRestartDelay {
		t.Errorf("RestartDelay = %v, want %v", s.cfg.RestartDelay, DefaultRestartDelay)
	}
	if s.cfg.MaxRestartDelay != DefaultMaxRestartDelay {
		t.Errorf("MaxRestartDelay = %v, want %v", s.cfg.MaxRestartDelay, DefaultMaxRestartDelay)
	}
	if s.cfg.StopTimeout != DefaultStopTimeout {
		t.Errorf("StopTimeout = %v, want %v", s.cfg.StopTimeout, DefaultStopTimeout)
	}
	if s.cfg.ReadyTimeout != DefaultReadyTimeout {
		t.Errorf("ReadyTimeout = %v, want %v", s.cfg.ReadyTimeout, DefaultReadyTimeout)
	}
	if s.State() != StateStopped {
		t.Errorf("initial State() = %q, want %q", s.State(), StateStopped)
	}
}

func TestNewSupervisor_MaxDelayNotBelowDelay(t *testing.T) {
	s := NewSupervisor(Config{
		Command:         []string{"true"},
		RestartDelay:    time.Minute,
		MaxRestartDelay: time.Second,
	})
	if s.cfg.MaxRestartDelay != time.Minute {
		t.Errorf("MaxRestartDelay = %v, want raised to %v", s.cfg.MaxRestartDelay, time.Minute)
	}
}

func TestStart_NoCommand(t *testing.T) {
	s := NewSupervisor(Config{Name: "vision"})
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoCommand) {
		t.Fatalf("Start() error = %v, want ErrNoCommand", err)
	}
}

func TestStart_MissingBinary(t *testing.T) {
	s := NewSupervisor(Config{Command: []string{"/nonexistent/vision-server"}})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %q, want %q", s.State(), StateFailed)
	}
	if s.Stats().LastError == "" {
		t.Error("Stats().LastError should be set")
	}
}

func TestStartStop_NoProbe(t *testing.T) {
	s := NewSupervisor(Config{Name: "sleeper", Command: []string{"sleep", "30"}, StopTimeout: 2 * time.Second})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.Ready() {
		t.Errorf("Ready() = false, want true without a probe")
	}
	stats := s.Stats()
	if stats.PID == 0 {
		t.Error("Stats().PID = 0 for a running child")
	}
	if stats.ReadySince.IsZero() {
		t.Error("Stats().ReadySince not set")
	}

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop() took %v, SIGTERM should end sleep at once", elapsed)
	}
	if s.State() != StateStopped {
		t.Errorf("State() after Stop = %q, want %q", s.State(), StateStopped)
	}
	if s.Stats().PID != 0 {
		t.Error("stopped child should report no PID")
	}

	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStart_WaitsForProbe(t *testing.T) {
	var calls atomic.Int32
	s := NewSupervisor(Config{
		Command: []string{"sleep", "30"},
		Probe: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("model loading")
			}
			return nil
		},
		StopTimeout: 2 * time.Second,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if n := calls.Load(); n < 3 {
		t.Errorf("probe calls = %d, want at least 3", n)
	}
	if !s.Ready() {
		t.Error("Ready() = false after probe passed")
	}
}

func TestStart_ProbeNeverPasses(t *testing.T) {
	s := NewSupervisor(Config{
		Command:      []string{"sleep", "30"},
		Probe:        func(context.Context) error { return errors.New("connection refused") },
		ReadyTimeout: 300 * time.Millisecond,
	})

	err := s.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
	if s.State() != StateFailed {
		t.Errorf("State() = %q, want %q", s.State(), StateFailed)
	}
}

func TestStart_ChildExitsBeforeReady(t *testing.T) {
	s := NewSupervisor(Config{
		Command:      []string{"sh", "-c", "exit 3"},
		Probe:        func(context.Context) error { return errors.New("connection refused") },
		ReadyTimeout: 10 * time.Second,
	})

	start := time.Now()
	err := s.Start(context.Background())
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("Start() error = %v, want ErrNotReady", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Start() should return as soon as the child exits")
	}
}

func TestSupervise_RestartsCrashedChild(t *testing.T) {
	s := NewSupervisor(Config{
		Command:      []string{"sh", "-c", "sleep 0.1"},
		RestartDelay: 20 * time.Millisecond,
		StopTimeout:  time.Second,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if !waitFor(t, 3*time.Second, func() bool { return s.Stats().Restarts >= 2 }) {
		t.Fatalf("Restarts = %d, want at least 2", s.Stats().Restarts)
	}
}

func TestSupervise_GivesUpAfterMaxRestarts(t *testing.T) {
	s := NewSupervisor(Config{
		Command:      []string{"sh", "-c", "exit 1"},
		RestartDelay: 10 * time.Millisecond,
		MaxRestarts:  2,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if !waitFor(t, 3*time.Second, func() bool { return s.State() == StateFailed }) {
		t.Fatalf("State() = %q, want %q", s.State(), StateFailed)
	}
	if got := s.Stats().Restarts; got != 2 {
		t.Errorf("Restarts = %d, want 2", got)
	}
	if s.Stats().LastError == "" {
		t.Error("LastError should carry the exit status")
	}
}

func TestSupervise_KillsUnresponsiveChild(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	s := NewSupervisor(Config{
		Command: []string{"sleep", "30"},
		Probe: func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("no answer")
		},
		ProbeInterval: 20 * time.Millisecond,
		ReadyTimeout:  100 * time.Millisecond,
		RestartDelay:  20 * time.Millisecond,
		StopTimeout:   time.Second,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	firstPID := s.Stats().PID
	healthy.Store(false)

	if !waitFor(t, 3*time.Second, func() bool { return s.Stats().Restarts >= 1 }) {
		t.Fatal("unresponsive child was never restarted")
	}
	if s.Stats().LastError == "" {
		t.Error("LastError should mention the failed probes")
	}

	healthy.Store(true)
	if !waitFor(t, 3*time.Second, s.Ready) {
		t.Fatalf("State() = %q, want ready after recovery", s.State())
	}
	if pid := s.Stats().PID; pid == firstPID {
		t.Errorf("PID = %d, want a new child", pid)
	}
}
