//go:build !linux

package systemd

import (
	"context"
	"errors"
)

// Units is unavailable off Linux.
type Units struct{}

func NewUnits(bool) *Units { return &Units{} }

func (u *Units) ActiveState(context.Context, string) (string, error) {
	return "", errors.New("systemd: not supported on this platform")
}

func (u *Units) IsActive(ctx context.Context, unit string) (bool, error) {
	return IsActiveCLI(ctx, unitName(unit))
}

func (u *Units) Close() {}
