package host

import (
	"context"
	"time"

	logx "bgsync/pkg/logx"
)

// NoopPromoter grants every promotion.
type NoopPromoter struct{}

func (NoopPromoter) Promote(context.Context) (func(), error) { return func() {}, nil }

// StatusNotifier is satisfied by *systemd.Notifier.
type StatusNotifier interface {
	Status(s string) bool
}

// StatusPromoter announces the run on the service manager status line.
type StatusPromoter struct {
	Notifier StatusNotifier
	Idle     string
}

func (p StatusPromoter) Promote(context.Context) (func(), error) {
	if p.Notifier == nil {
		return func() {}, nil
	}
	p.Notifier.Status("background sync running since " + time.Now().Format(time.RFC3339))
	idle := p.Idle
	if idle == "" {
		idle = "idle"
	}
	return func() { p.Notifier.Status(idle) }, nil
}

// Chain promotes through every promoter in order; if one fails the earlier
// ones are released.
type Chain []interface {
	Promote(ctx context.Context) (func(), error)
}

func (c Chain) Promote(ctx context.Context) (func(), error) {
	releases := make([]func(), 0, len(c))
	undo := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, p := range c {
		if p == nil {
			continue
		}
		rel, err := p.Promote(ctx)
		if err != nil {
			undo()
			return nil, err
		}
		if rel != nil {
			releases = append(releases, rel)
		}
	}
	return undo, nil
}

func logRelease(log logx.Logger, what string, err error) {
	if err != nil {
		log.Warn("failed to restore "+what, logx.Err(err))
	}
}

// PromoterFunc adapts a function to a promoter.
type PromoterFunc func(ctx context.Context) (func(), error)

func (f PromoterFunc) Promote(ctx context.Context) (func(), error) { return f(ctx) }
