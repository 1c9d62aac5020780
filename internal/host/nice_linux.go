//go:build linux

package host

import (
	"context"
	"fmt"
	"sync"

	logx "bgsync/pkg/logx"

	"golang.org/x/sys/unix"
)

// NicePromoter sets the process nice value for the duration of a run and
// restores the previous value on release. Lowering it below the current value
// usually needs CAP_SYS_NICE; that failure fails the promotion.
type NicePromoter struct {
	Nice int
	Log  logx.Logger

	mu sync.Mutex
}

func (p *NicePromoter) Promote(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	// getpriority returns 20-nice on Linux.
	raw, err := unix.Getpriority(unix.PRIO_PROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("getpriority: %w", err)
	}
	prev := 20 - raw
	if prev == p.Nice {
		return func() {}, nil
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, p.Nice); err != nil {
		return nil, fmt.Errorf("setpriority %d: %w", p.Nice, err)
	}
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		logRelease(p.Log, "process priority", unix.Setpriority(unix.PRIO_PROCESS, 0, prev))
	}, nil
}
