// Package supervisor implements the parent process that spawns the
// worker fleet, pins each child to a distinct X display, and restarts
// any child that exits. Grounded in the process-group
// spawn/escalation pattern of an internal devops supervisor used
// elsewhere in this dependency family (os/exec + syscall.SysProcAttr).
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// softWarningThreshold is the NumWorkers value above which the
// supervisor logs a caution.
const softWarningThreshold = 50

const (
	pollInterval  = 1 * time.Second
	respawnDelay  = 2 * time.Second
	terminateJoin = 30 * time.Second
	killJoin      = 5 * time.Second
)

// child tracks one supervised worker process. exited/exitCode are set by
// a dedicated goroutine that reaps the process via cmd.Wait() as soon as
// it exits, so pollOnce never has to probe liveness with signals.
type child struct {
	id           int
	cmd          *exec.Cmd
	restartCount int

	mu       sync.Mutex
	exited   bool
	exitCode int
}

func (c *child) markExited(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exited = true
	c.exitCode = code
}

func (c *child) status() (exited bool, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited, c.exitCode
}

// Supervisor forks NumWorkers worker processes and keeps them alive.
type Supervisor struct {
	NumWorkers int
	WorkerBin  string
	WorkerArgs []string
	BaseEnv    []string
	Logger     *slog.Logger

	mu       sync.Mutex
	children map[int]*child
	shutdown bool
}

// New constructs a Supervisor. workerBin is the executable to spawn per
// child (typically re-exec'ing this same binary in AVITOSENTRY_MODE=worker).
func New(numWorkers int, workerBin string, workerArgs []string, logger *slog.Logger) *Supervisor {
	if numWorkers > softWarningThreshold {
		logger.Warn("num_workers is unusually high", "num_workers", numWorkers)
	}
	return &Supervisor{
		NumWorkers: numWorkers,
		WorkerBin:  workerBin,
		WorkerArgs: workerArgs,
		BaseEnv:    os.Environ(),
		Logger:     logger,
		children:   make(map[int]*child),
	}
}

// Run spawns all children and polls them every second until ctx is
// cancelled, at which point it runs the graceful shutdown sequence.
func (s *Supervisor) Run(ctx context.Context) error {
	for id := 1; id <= s.NumWorkers; id++ {
		if err := s.spawn(id); err != nil {
			return fmt.Errorf("supervisor: spawning worker %d: %w", id, err)
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdownAll()
			return nil
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce checks every child for exit and respawns dead ones.
func (s *Supervisor) pollOnce(ctx context.Context) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	ids := make([]int, 0, len(s.children))
	for id := range s.children {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.mu.Lock()
		c, ok := s.children[id]
		s.mu.Unlock()
		if !ok {
			continue
		}

		exited, exitCode := c.status()
		if !exited {
			continue
		}

		s.Logger.Info("worker exited", "worker_id", id, "exit_code", exitCode, "restart_count", c.restartCount)

		select {
		case <-ctx.Done():
			return
		case <-time.After(respawnDelay):
		}

		c.restartCount++
		if err := s.respawn(id, c.restartCount); err != nil {
			s.Logger.Error("respawn failed", "worker_id", id, "error", err)
		}
	}
}

// spawn starts worker id for the first time.
func (s *Supervisor) spawn(id int) error {
	return s.launch(id, 0)
}

// respawn restarts worker id, preserving its restart count.
func (s *Supervisor) respawn(id, restartCount int) error {
	return s.launch(id, restartCount)
}

func (s *Supervisor) launch(id, restartCount int) error {
	cmd := exec.Command(s.WorkerBin, s.WorkerArgs...)
	cmd.Env = append(append([]string{}, s.BaseEnv...),
		"AVITOSENTRY_MODE=worker",
		fmt.Sprintf("DISPLAY=:%d", 99+id-1),
		fmt.Sprintf("WORKER_ID=worker_%d", id),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	// A fresh process group and no inherited signal handlers, so the
	// supervisor's own SIGTERM/SIGINT disposition does not propagate to
	// children implicitly.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return err
	}

	c := &child{id: id, cmd: cmd, restartCount: restartCount}
	s.mu.Lock()
	s.children[id] = c
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		c.markExited(code)
	}()

	s.Logger.Info("worker spawned", "worker_id", id, "pid", cmd.Process.Pid)
	return nil
}

// shutdownAll implements the graceful shutdown sequence: SIGTERM, wait
// up to 30s, SIGKILL, wait up to 5s more, warn if still alive.
func (s *Supervisor) shutdownAll() {
	s.mu.Lock()
	s.shutdown = true
	children := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()

	for _, c := range children {
		if exited, _ := c.status(); exited {
			continue
		}
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
	}

	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error {
			s.waitOrKill(c)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Supervisor) waitOrKill(c *child) {
	if s.pollUntilExited(c, terminateJoin) {
		return
	}

	s.Logger.Warn("worker did not exit after SIGTERM, escalating to SIGKILL", "worker_id", c.id)
	_ = c.cmd.Process.Signal(syscall.SIGKILL)

	if !s.pollUntilExited(c, killJoin) {
		s.Logger.Warn("worker still alive after SIGKILL, possible zombie", "worker_id", c.id)
	}
}

// pollUntilExited polls c's reaped-by-Wait() status at a short interval
// until it reports exited or deadline elapses.
func (s *Supervisor) pollUntilExited(c *child, deadline time.Duration) bool {
	const pollEvery = 100 * time.Millisecond
	elapsed := time.Duration(0)
	for elapsed < deadline {
		if exited, _ := c.status(); exited {
			return true
		}
		time.Sleep(pollEvery)
		elapsed += pollEvery
	}
	exited, _ := c.status()
	return exited
}
