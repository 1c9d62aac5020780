package handoff

import (
	"context"

	"bgsync/internal/eventlog"
)

// Delegate starts the delegated unit of work. Bootstrap is always called on
// the owner loop; ctx is cancelled if the coordinator stops waiting for it.
type Delegate interface {
	Bootstrap(ctx context.Context) (Instance, error)
}

// Instance is a bootstrapped unit of work.
//
// OnComplete is called on the owner loop. The instance must invoke fn exactly
// once when the work ends (immediately, if it already has); a non-nil error
// marks the run as failed. fn may be called from any goroutine.
type Instance interface {
	OnComplete(fn func(err error))
}

// Abandoner is implemented by instances that can discard their work when the
// coordinator gives up on them. Abandon is called on the owner loop.
type Abandoner interface {
	Abandon()
}

// Promoter raises the execution priority of the current run. The returned
// release restores it and is called once the run is over.
type Promoter interface {
	Promote(ctx context.Context) (release func(), err error)
}

// ForegroundProbe reports whether the host application is in the foreground,
// in which case background runs are skipped.
type ForegroundProbe interface {
	Foreground(ctx context.Context) (bool, error)
}

// Journal is the session-grouped activity log the coordinator writes to.
type Journal interface {
	StartSession(name string) int64
	EndSession(id int64, success bool)
	Log(level eventlog.Level, message string, sessionID int64)
}

// PromoterFunc adapts a function to Promoter.
type PromoterFunc func(ctx context.Context) (func(), error)

func (f PromoterFunc) Promote(ctx context.Context) (func(), error) { return f(ctx) }

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(ctx context.Context) (Instance, error)

func (f DelegateFunc) Bootstrap(ctx context.Context) (Instance, error) { return f(ctx) }
