//go:build !linux

package host

import (
	"context"

	logx "bgsync/pkg/logx"
)

// NicePromoter is a no-op on platforms without setpriority.
type NicePromoter struct {
	Nice int
	Log  logx.Logger
}

func (p *NicePromoter) Promote(context.Context) (func(), error) { return func() {}, nil }
