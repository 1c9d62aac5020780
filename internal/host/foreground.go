package host

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// NeverForeground never reports the application as foreground.
type NeverForeground struct{}

func (NeverForeground) Foreground(context.Context) (bool, error) { return false, nil }

// PidfileProbe reports foreground while the pidfile names a live process.
// A missing pidfile means background.
type PidfileProbe struct {
	Path string
}

func (p PidfileProbe) Foreground(context.Context) (bool, error) {
	b, err := os.ReadFile(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return false, nil
	}
	return processAlive(pid), nil
}

// UnitActiveChecker is satisfied by *systemd.Units.
type UnitActiveChecker interface {
	IsActive(ctx context.Context, unit string) (bool, error)
}

// UnitProbe reports foreground while a service manager unit is active.
type UnitProbe struct {
	Units UnitActiveChecker
	Unit  string
}

func (p UnitProbe) Foreground(ctx context.Context) (bool, error) {
	if p.Units == nil || strings.TrimSpace(p.Unit) == "" {
		return false, nil
	}
	return p.Units.IsActive(ctx, p.Unit)
}

// AnyForeground reports foreground when any probe does. A probe error is
// returned only if no other probe reported foreground.
type AnyForeground []interface {
	Foreground(ctx context.Context) (bool, error)
}

func (a AnyForeground) Foreground(ctx context.Context) (bool, error) {
	var errs []error
	for _, p := range a {
		fg, err := p.Foreground(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if fg {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
