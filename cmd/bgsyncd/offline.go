package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"bgsync/internal/channel"
	"bgsync/internal/config"
	"bgsync/internal/constraints"
	"bgsync/internal/eventlog"
	"bgsync/internal/storage"
	logx "bgsync/pkg/logx"
	"github.com/spf13/cobra"
)

// offline is a command surface over the store without a scheduler. It must
// not be used to write while a daemon runs on the same store.
type offline struct {
	store storage.Store
	log   *eventlog.Log
	ch    *channel.Channel
}

func openOffline(cmd *cobra.Command) (*offline, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	log := logx.NewConsole("warn")
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.Busy(),
		Sync:        cfg.Storage.Sync,
	}, log.Component("storage"))
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("storage driver %q keeps nothing to read", cfg.Storage.Driver)
	}
	events := eventlog.New(eventlog.Options{Capacity: cfg.EventLog.Capacity, Store: store, Logger: log.Component("eventlog")})
	ch := channel.New(channel.Deps{
		Prefs:  constraints.NewStore(store),
		Log:    events,
		Logger: log.Component("channel"),
	})
	return &offline{store: store, log: events, ch: ch}, nil
}

// Close releases the store without persisting the log: reads must not
// rewrite a document a running daemon may be appending to. Mutating
// commands persist through the log themselves.
func (o *offline) Close() error {
	return o.store.Close()
}

func withOffline(fn func(cmd *cobra.Command, o *offline, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		o, err := openOffline(cmd)
		if err != nil {
			return err
		}
		defer o.Close()
		return fn(cmd, o, args)
	}
}

func logsCmd() *cobra.Command {
	logs := &cobra.Command{Use: "logs", Short: "Inspect the event log"}
	logs.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print the event log as JSON",
		RunE: withOffline(func(cmd *cobra.Command, o *offline, _ []string) error {
			b, err := o.log.ExportJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		}),
	})
	logs.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every event log entry",
		RunE: withOffline(func(cmd *cobra.Command, o *offline, _ []string) error {
			if _, err := o.ch.Invoke(cmd.Context(), "clearLogs", nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "event log cleared")
			return nil
		}),
	})
	return logs
}

func constraintsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "constraints [key value]",
		Short: "Show or set a run constraint",
		Args:  cobra.RangeArgs(0, 2),
		RunE: withOffline(func(cmd *cobra.Command, o *offline, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch len(args) {
			case 0:
				return printConstraints(ctx, o.ch, out)
			case 1:
				return fmt.Errorf("missing value for %s", args[0])
			}
			key, raw := strings.ToLower(args[0]), args[1]
			if key == constraints.KeyNetworkType {
				if err := o.ch.SetNetworkType(ctx, raw); err != nil {
					return err
				}
			} else {
				v, err := channel.Args{"value": raw}.Bool("value")
				if err != nil {
					return err
				}
				if err := o.ch.SetBool(ctx, key, v); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "%s = %s\n", key, raw)
			return nil
		}),
	}
}

func printConstraints(ctx context.Context, ch *channel.Channel, out io.Writer) error {
	nt, err := ch.NetworkType(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", constraints.KeyNetworkType, nt)
	for _, key := range []string{constraints.KeyBatteryNotLow, constraints.KeyRequiresCharging, constraints.KeyDeviceIdle} {
		v, err := ch.Bool(ctx, key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %t\n", key, v)
	}
	return nil
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call method [json-args]",
		Short: "Invoke a command surface method against the store",
		Long:  "Invoke one named method with optional JSON object arguments. Methods that need the scheduler fail offline.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withOffline(func(cmd *cobra.Command, o *offline, args []string) error {
			var in channel.Args
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &in); err != nil {
					return fmt.Errorf("args: %w", err)
				}
			}
			res, err := o.ch.Invoke(cmd.Context(), args[0], in)
			if err != nil {
				enc := json.NewEncoder(os.Stderr)
				_ = enc.Encode(channel.AsCallError(err))
				return fmt.Errorf("%s failed", args[0])
			}
			b, err := json.Marshal(res)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		}),
	}
}
