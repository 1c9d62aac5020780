// Package delegate provides the unit of work the coordinator hands to the
// owner loop: an external program started with the background entrypoint.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"bgsync/internal/handoff"
	logx "bgsync/pkg/logx"
)

const DefaultEntrypoint = "backgroundSync"

// ErrCommandNotFound is returned by Bootstrap when the configured program
// cannot be resolved.
var ErrCommandNotFound = errors.New("delegate: command not found")

// Config describes the program to launch.
type Config struct {
	Command    string
	Args       []string
	Entrypoint string
	Dir        string
	Env        []string
	// KillGrace is how long Abandon waits after SIGTERM before SIGKILL.
	KillGrace time.Duration
}

// Exec launches Config.Command with "--entrypoint=<name>" appended to its
// arguments. The run completes when the process exits.
type Exec struct {
	cfg Config
	log logx.Logger
}

func NewExec(cfg Config, log logx.Logger) *Exec {
	if strings.TrimSpace(cfg.Entrypoint) == "" {
		cfg.Entrypoint = DefaultEntrypoint
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Exec{cfg: cfg, log: log}
}

// Bootstrap resolves and starts the process.
func (e *Exec) Bootstrap(ctx context.Context) (handoff.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(e.cfg.Command)
	if name == "" {
		return nil, fmt.Errorf("%w: delegate.command is empty", ErrCommandNotFound)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommandNotFound, err)
	}

	args := append(append([]string(nil), e.cfg.Args...), "--entrypoint="+e.cfg.Entrypoint)
	cmd := exec.Command(path, args...)
	cmd.Dir = e.cfg.Dir
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Env = append(cmd.Env, "BGSYNC_ENTRYPOINT="+e.cfg.Entrypoint)
	cmd.Stdout = logWriter{log: e.log, level: logx.LevelInfo}
	cmd.Stderr = logWriter{log: e.log, level: logx.LevelWarn}
	// Grandchildren holding the output pipes must not stall Wait.
	cmd.WaitDelay = e.cfg.KillGrace

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	e.log.Info("delegate started", logx.String("path", path), logx.Int("pid", cmd.Process.Pid), logx.String("entrypoint", e.cfg.Entrypoint))

	p := &process{cmd: cmd, log: e.log, grace: e.cfg.KillGrace, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type process struct {
	cmd   *exec.Cmd
	log   logx.Logger
	grace time.Duration

	done chan struct{}
	err  error

	mu        sync.Mutex
	callbacks []func(error)
	finished  bool
	abandoned bool
}

func (p *process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.finished = true
	cbs := p.callbacks
	p.callbacks = nil
	abandoned := p.abandoned
	p.mu.Unlock()
	close(p.done)

	if abandoned {
		p.log.Debug("abandoned delegate exited", logx.Err(err))
	} else if err != nil {
		p.log.Warn("delegate exited with error", logx.Err(err))
	} else {
		p.log.Info("delegate exited")
	}
	for _, fn := range cbs {
		fn(err)
	}
}

// OnComplete registers fn; it is invoked immediately if the process already exited.
func (p *process) OnComplete(fn func(error)) {
	p.mu.Lock()
	if p.finished {
		err := p.err
		p.mu.Unlock()
		fn(err)
		return
	}
	p.callbacks = append(p.callbacks, fn)
	p.mu.Unlock()
}

// Abandon asks the process to stop and kills it if it outlives the grace period.
func (p *process) Abandon() {
	p.mu.Lock()
	if p.finished || p.abandoned {
		p.mu.Unlock()
		return
	}
	p.abandoned = true
	p.mu.Unlock()

	p.log.Warn("abandoning delegate", logx.Int("pid", p.cmd.Process.Pid))
	if err := terminate(p.cmd.Process); err != nil {
		_ = p.cmd.Process.Kill()
		return
	}
	go func() {
		t := time.NewTimer(p.grace)
		defer t.Stop()
		select {
		case <-p.done:
		case <-t.C:
			_ = p.cmd.Process.Kill()
		}
	}()
}

// logWriter forwards process output line by line to the diagnostic logger.
type logWriter struct {
	log   logx.Logger
	level logx.Level
}

func (w logWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.log.Log(w.level, line, logx.String("stream", "delegate"))
		}
	}
	return len(b), nil
}
