package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// killTimeout bounds how long Terminate waits for the process group to
// exit after SIGTERM before escalating to SIGKILL.
const killTimeout = 10 * time.Second

// Worker supervises one launched external simulator process. The child
// is placed in its own process group so teardown reaches any helpers it
// spawned.
type Worker struct {
	cmd  *exec.Cmd
	pid  int
	lg   zerolog.Logger
	done chan error

	mu     sync.Mutex
	reaped bool
}

// Launch starts the worker process described by the command. The
// executable's permission bits are fixed up first, because unpacking an
// FMU archive may have stripped them.
func Launch(c Command, lg zerolog.Logger) (*Worker, error) {
	if filepath.IsAbs(c.Executable) {
		if err := os.Chmod(c.Executable, 0700); err != nil {
			lg.Warn().Str("category", "WARNING").Err(err).
				Str("executable", c.Executable).Msg("unable to set executable permissions")
		}
	}

	cmd := exec.Command(c.Executable, c.Args()...)
	cmd.Dir = c.WorkDir
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		lg.Error().Str("category", "ABORT").Err(err).
			Str("executable", c.Executable).Msg("unable to start external simulator application")
		return nil, fmt.Errorf("supervisor: start %q: %w", c.Executable, err)
	}

	w := &Worker{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		lg:   lg,
		done: make(chan error, 1),
	}
	go func() {
		err := cmd.Wait()
		w.mu.Lock()
		w.reaped = true
		w.mu.Unlock()
		w.done <- err
	}()

	lg.Debug().Str("category", "DEBUG").Int("pid", w.pid).
		Str("executable", c.Executable).Strs("args", c.Args()).
		Str("workdir", c.WorkDir).Msg("started external application")

	return w, nil
}

// PID returns the worker's process identifier, used both for the segment
// name and for teardown.
func (w *Worker) PID() int { return w.pid }

// Running reports whether the worker process is still alive.
func (w *Worker) Running() bool {
	w.mu.Lock()
	reaped := w.reaped
	w.mu.Unlock()
	if reaped {
		return false
	}
	return unix.Kill(w.pid, 0) == nil
}

// Wait blocks until the worker exits and returns its exit error.
func (w *Worker) Wait() error { return <-w.done }

// Terminate kills the worker's process group: SIGTERM first, SIGKILL
// when the group does not exit in time or the soft signal fails.
func (w *Worker) Terminate() {
	if !w.Running() {
		return
	}

	if err := unix.Kill(-w.pid, unix.SIGTERM); err != nil {
		w.lg.Warn().Str("category", "WARNING").Err(err).Int("pid", w.pid).
			Msg("unable to terminate process group with SIGTERM, using SIGKILL")
		unix.Kill(-w.pid, unix.SIGKILL)
		return
	}

	select {
	case <-w.done:
	case <-time.After(killTimeout):
		w.lg.Warn().Str("category", "WARNING").Int("pid", w.pid).
			Msg("process group ignored SIGTERM, using SIGKILL")
		unix.Kill(-w.pid, unix.SIGKILL)
		<-w.done
	}

	w.lg.Debug().Str("category", "DEBUG").Int("pid", w.pid).Msg("terminated external application")
}
