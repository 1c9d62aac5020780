// Package channel is the command surface of the daemon: named methods with
// loosely typed arguments, answered with a value or a *CallError. The
// operator transports (Telegram, CLI) sit on top of it.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"bgsync/internal/constraints"
	"bgsync/internal/eventlog"
	"bgsync/internal/task/scheduler"
	logx "bgsync/pkg/logx"
)

// Error codes.
const (
	CodeBackgroundSync  = "BACKGROUND_SYNC_ERROR"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotImplemented  = "NOT_IMPLEMENTED"
)

// DefaultWorkName is the unique name of the periodic registration.
const DefaultWorkName = "BackgroundSyncWork"

// CallError is the (code, message) pair returned for a failed call.
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *CallError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
}

func syncError(msg string, err error) *CallError {
	ce := &CallError{Code: CodeBackgroundSync, Message: msg}
	if err != nil {
		ce.Details = err.Error()
	}
	return ce
}

func invalidArg(format string, args ...any) *CallError {
	return &CallError{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// AsCallError unwraps err into a *CallError, wrapping foreign errors as
// BACKGROUND_SYNC_ERROR.
func AsCallError(err error) *CallError {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return syncError("call failed", err)
}

// Scheduler is the part of the periodic scheduler the channel drives.
type Scheduler interface {
	AddPeriodic(req scheduler.Request, job scheduler.Job) error
	Remove(name string) bool
	Scheduled(name string) bool
}

// Deps are the collaborators of a Channel. Log and Prefs are required.
type Deps struct {
	Scheduler Scheduler
	Prefs     *constraints.Store
	Log       *eventlog.Log
	// Job is registered as the periodic work.
	Job scheduler.Job
	// Timeout returns the wall-clock budget of one run.
	Timeout  func() time.Duration
	WorkName string
	Logger   logx.Logger
}

// Args are the call arguments, as decoded from JSON or built by a transport.
type Args map[string]any

type Handler func(ctx context.Context, args Args) (any, error)

type Channel struct {
	d       Deps
	log     logx.Logger
	mu      sync.Mutex // serializes schedule mutations
	methods map[string]Handler
}

func New(d Deps) *Channel {
	if d.WorkName == "" {
		d.WorkName = DefaultWorkName
	}
	if d.Logger.IsZero() {
		d.Logger = logx.Nop()
	}
	if d.Prefs == nil {
		d.Prefs = constraints.NewStore(nil)
	}
	c := &Channel{d: d, log: d.Logger}
	c.methods = map[string]Handler{
		"getPlatformVersion":        func(context.Context, Args) (any, error) { return PlatformVersion(), nil },
		"startBackgroundSync":       c.callStart,
		"stopBackgroundSync":        func(ctx context.Context, _ Args) (any, error) { return c.Stop(ctx) },
		"getBackgroundSyncStatus":   func(ctx context.Context, _ Args) (any, error) { return c.Status(ctx) },
		"getBackgroundSyncInterval": func(ctx context.Context, _ Args) (any, error) { return c.Interval(ctx) },
		"getLogs":                   func(context.Context, Args) (any, error) { return c.Logs() },
		"clearLogs":                 func(context.Context, Args) (any, error) { return nil, c.ClearLogs() },
		"getNetworkType":            func(ctx context.Context, _ Args) (any, error) { return c.NetworkType(ctx) },
		"setNetworkType":            c.callSetNetworkType,
		"getBatteryNotLow":          c.boolGetter(constraints.KeyBatteryNotLow),
		"setBatteryNotLow":          c.boolSetter(constraints.KeyBatteryNotLow),
		"getRequiresCharging":       c.boolGetter(constraints.KeyRequiresCharging),
		"setRequiresCharging":       c.boolSetter(constraints.KeyRequiresCharging),
		"getDeviceIdle":             c.boolGetter(constraints.KeyDeviceIdle),
		"setDeviceIdle":             c.boolSetter(constraints.KeyDeviceIdle),
	}
	return c
}

// Methods lists the method names, sorted.
func (c *Channel) Methods() []string {
	out := make([]string, 0, len(c.methods))
	for m := range c.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Invoke dispatches one call. A non-nil error is always a *CallError.
func (c *Channel) Invoke(ctx context.Context, method string, args Args) (any, error) {
	h, ok := c.methods[method]
	if !ok {
		return nil, &CallError{Code: CodeNotImplemented, Message: fmt.Sprintf("method %q not implemented", method)}
	}
	res, err := h(ctx, args)
	if err != nil {
		ce := AsCallError(err)
		c.log.Warn("call failed", logx.String("method", method), logx.String("code", ce.Code), logx.String("msg", ce.Message), logx.String("details", ce.Details))
		return nil, ce
	}
	c.log.Debug("call ok", logx.String("method", method))
	return res, nil
}
