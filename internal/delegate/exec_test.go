//go:build unix

package delegate

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	logx "bgsync/pkg/logx"
)

func waitComplete(t *testing.T, inst interface{ OnComplete(func(error)) }, within time.Duration) error {
	t.Helper()
	ch := make(chan error, 1)
	inst.OnComplete(func(err error) { ch <- err })
	select {
	case err := <-ch:
		return err
	case <-time.After(within):
		t.Fatal("delegate did not complete")
		return nil
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecCompletesOnExit(t *testing.T) {
	t.Parallel()
	requireSh(t)
	d := NewExec(Config{Command: "sh", Args: []string{"-c", `case "$1" in --entrypoint=backgroundSync) exit 0;; esac; exit 9`, "sh"}}, logx.Nop())
	inst, err := d.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := waitComplete(t, inst, 5*time.Second); err != nil {
		t.Fatalf("completion err = %v", err)
	}
	// Registering after exit still fires.
	if err := waitComplete(t, inst, time.Second); err != nil {
		t.Fatalf("late registration err = %v", err)
	}
}

func TestExecNonZeroExitIsError(t *testing.T) {
	t.Parallel()
	requireSh(t)
	d := NewExec(Config{Command: "sh", Args: []string{"-c", "exit 3"}}, logx.Nop())
	inst, err := d.Bootstrap(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var exitErr *exec.ExitError
	if err := waitComplete(t, inst, 5*time.Second); !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("err = %v", err)
	}
}

func TestExecMissingCommand(t *testing.T) {
	t.Parallel()
	d := NewExec(Config{Command: "definitely-not-a-real-binary-bgsync"}, logx.Nop())
	if _, err := d.Bootstrap(context.Background()); !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewExec(Config{}, logx.Nop()).Bootstrap(context.Background()); !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("empty command err = %v", err)
	}
}

func TestExecAbandonStopsProcess(t *testing.T) {
	t.Parallel()
	requireSh(t)
	d := NewExec(Config{Command: "sh", Args: []string{"-c", "sleep 30"}, KillGrace: 200 * time.Millisecond}, logx.Nop())
	inst, err := d.Bootstrap(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	inst.(interface{ Abandon() }).Abandon()
	if err := waitComplete(t, inst, 5*time.Second); err == nil {
		t.Fatal("abandoned process reported success")
	}
}
