// Package telegram is the operator command surface over a Telegram bot.
// Every /sync_* command maps onto one channel method.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"bgsync/internal/channel"
	"bgsync/internal/constraints"
	"bgsync/internal/eventlog"
	"bgsync/internal/handoff"
	"bgsync/internal/task/scheduler"
	"bgsync/internal/transport/telegram/router"
)

const defaultLogLines = 20

// Runs exposes the coordinator state for /sync_status.
type Runs interface {
	State() handoff.State
	Last() (handoff.Result, bool)
}

// Schedules exposes the periodic scheduler for /sync_status and /sync_now.
type Schedules interface {
	Snapshot() scheduler.Snapshot
	Trigger(name string) error
}

type Deps struct {
	Channel   *channel.Channel
	Log       *eventlog.Log
	Runs      Runs
	Schedules Schedules
	WorkName  string
}

// Commands returns the owner-only sync commands.
func Commands(d Deps) []router.Command {
	if d.WorkName == "" {
		d.WorkName = channel.DefaultWorkName
	}
	h := &handlers{d: d}
	return []router.Command{
		{
			Name:        "sync_start",
			Description: "schedule the periodic sync",
			Usage:       "/sync_start [interval]   e.g. 15, 30m, 01:30, interval:45m",
			Access:      router.AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      h.start,
		},
		{
			Name:        "sync_stop",
			Description: "cancel the periodic sync",
			Access:      router.AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      h.stop,
		},
		{
			Name:        "sync_status",
			Aliases:     []string{"status"},
			Description: "schedule, constraints and last run",
			Access:      router.AccessOwnerOnly,
			Handle:      h.status,
		},
		{
			Name:        "sync_interval",
			Description: "show the stored interval",
			Access:      router.AccessOwnerOnly,
			Handle:      h.interval,
		},
		{
			Name:        "sync_logs",
			Description: "show the newest event log entries",
			Usage:       "/sync_logs [n]",
			Access:      router.AccessOwnerOnly,
			Handle:      h.logs,
		},
		{
			Name:        "sync_clear",
			Description: "clear the event log",
			Access:      router.AccessOwnerOnly,
			Handle:      h.clear,
		},
		{
			Name:        "sync_constraints",
			Description: "show or change run constraints",
			Usage:       "/sync_constraints [network_type|battery_not_low|requires_charging|device_idle value]",
			Access:      router.AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      h.constraints,
		},
		{
			Name:        "sync_now",
			Description: "trigger one run now (constraints still apply)",
			Access:      router.AccessOwnerOnly,
			Handle:      h.now,
		},
	}
}

type handlers struct {
	d Deps
}

// fail renders a call error the way the operator sees it.
func fail(ctx context.Context, req *router.Request, err error) error {
	ce := channel.AsCallError(err)
	text := ce.Code + ": " + ce.Message
	if ce.Details != "" {
		text += " (" + ce.Details + ")"
	}
	_ = req.Reply(ctx, "❌ "+text)
	return err
}

func (h *handlers) start(ctx context.Context, req *router.Request) error {
	minutes := 15
	if len(req.Args) > 0 {
		every, err := scheduler.ParseSchedule(strings.Join(req.Args, " "))
		if err != nil {
			return fail(ctx, req, &channel.CallError{Code: channel.CodeInvalidArgument, Message: err.Error()})
		}
		minutes = int(every / time.Minute)
	}
	msg, err := h.d.Channel.Start(ctx, minutes)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ "+msg)
}

func (h *handlers) stop(ctx context.Context, req *router.Request) error {
	msg, err := h.d.Channel.Stop(ctx)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ "+msg)
}

func (h *handlers) interval(ctx context.Context, req *router.Request) error {
	m, err := h.d.Channel.Interval(ctx)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("Interval: %d minutes", m))
}

func (h *handlers) status(ctx context.Context, req *router.Request) error {
	on, err := h.d.Channel.Status(ctx)
	if err != nil {
		return fail(ctx, req, err)
	}
	m, err := h.d.Channel.Interval(ctx)
	if err != nil {
		return fail(ctx, req, err)
	}
	lines := []string{"<b>Background sync</b>"}
	if on {
		lines = append(lines, fmt.Sprintf("Scheduled: yes, every %d min", m))
	} else {
		lines = append(lines, "Scheduled: no")
	}
	if h.d.Schedules != nil {
		for _, s := range h.d.Schedules.Snapshot().Schedules {
			if s.Name != h.d.WorkName {
				continue
			}
			if !s.Next.IsZero() {
				lines = append(lines, "Next: "+s.Next.Format(time.RFC3339))
			}
			if s.LastSkip != "" {
				lines = append(lines, "Last trigger skipped: unmet "+html.EscapeString(s.LastSkip))
			}
		}
	}
	if h.d.Runs != nil {
		lines = append(lines, "State: "+h.d.Runs.State().String())
		if last, ok := h.d.Runs.Last(); ok {
			l := fmt.Sprintf("Last run: %s at %s (%s)", last.Outcome, last.Started.Format(time.RFC3339), last.Duration.Round(time.Millisecond))
			if last.Err != nil {
				l += "\n" + html.EscapeString(last.Err.Error())
			}
			lines = append(lines, l)
		}
	}
	cons, err := h.constraintLines(ctx)
	if err != nil {
		return fail(ctx, req, err)
	}
	lines = append(lines, "", "<b>Constraints</b>")
	lines = append(lines, cons...)
	return req.ReplyHTML(ctx, strings.Join(lines, "\n"))
}

func (h *handlers) constraintLines(ctx context.Context) ([]string, error) {
	nt, err := h.d.Channel.NetworkType(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{constraints.KeyNetworkType + ": " + nt}
	for _, k := range []string{constraints.KeyBatteryNotLow, constraints.KeyRequiresCharging, constraints.KeyDeviceIdle} {
		v, err := h.d.Channel.Bool(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, k+": "+strconv.FormatBool(v))
	}
	return out, nil
}

func (h *handlers) constraints(ctx context.Context, req *router.Request) error {
	switch len(req.Args) {
	case 0:
		lines, err := h.constraintLines(ctx)
		if err != nil {
			return fail(ctx, req, err)
		}
		return req.Reply(ctx, strings.Join(lines, "\n"))
	case 2:
	default:
		return req.Reply(ctx, "usage: /sync_constraints [key value]")
	}

	key, value := strings.ToLower(req.Args[0]), req.Args[1]
	var err error
	if key == constraints.KeyNetworkType {
		err = h.d.Channel.SetNetworkType(ctx, value)
	} else {
		b, perr := strconv.ParseBool(value)
		if perr != nil {
			return fail(ctx, req, &channel.CallError{Code: channel.CodeInvalidArgument, Message: fmt.Sprintf("%s expects true or false", key)})
		}
		err = h.d.Channel.SetBool(ctx, key, b)
	}
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("✅ %s = %s", key, value))
}

func (h *handlers) logs(ctx context.Context, req *router.Request) error {
	if h.d.Log == nil {
		return req.Reply(ctx, "event log not available")
	}
	n := defaultLogLines
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return req.Reply(ctx, "usage: /sync_logs [n]")
		}
		n = min(v, 200)
	}
	logs := h.d.Log.Export().Logs
	if len(logs) == 0 {
		return req.Reply(ctx, "event log is empty")
	}
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	var b strings.Builder
	for _, e := range logs {
		fmt.Fprintf(&b, "%s [%s]", e.DateTime, e.Level)
		if e.SessionID != 0 {
			fmt.Fprintf(&b, " #%d", e.SessionID)
		}
		b.WriteString(" " + e.Message + "\n")
	}
	return req.Reply(ctx, b.String())
}

func (h *handlers) clear(ctx context.Context, req *router.Request) error {
	if err := h.d.Channel.ClearLogs(); err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ event log cleared")
}

func (h *handlers) now(ctx context.Context, req *router.Request) error {
	if h.d.Schedules == nil {
		return req.Reply(ctx, "scheduler not available")
	}
	err := h.d.Schedules.Trigger(h.d.WorkName)
	switch {
	case errors.Is(err, scheduler.ErrUnknown):
		return req.Reply(ctx, "background sync is not scheduled; use /sync_start first")
	case err != nil:
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✅ triggered")
}
