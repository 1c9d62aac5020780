package config

// Config is the daemon configuration file (JSON or YAML).
//
// Durations are Go duration strings ("30s", "10m"). Omitted sections take
// their defaults; see the accessor methods in validate.go.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Storage   StorageConfig   `json:"storage"`
	EventLog  EventLogConfig  `json:"event_log,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Engine    EngineConfig    `json:"engine,omitempty"`
	Handoff   HandoffConfig   `json:"handoff,omitempty"`
	Delegate  DelegateConfig  `json:"delegate"`
	Host      HostConfig      `json:"host,omitempty"`
	Alerts    AlertsConfig    `json:"alerts,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig enables the operator command surface. An empty token
// disables it.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id receiving the Telegram log sink.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./bgsync.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file | sqlite | pebble | memory | none
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Sync        bool   `json:"sync,omitempty"`         // pebble
}

// EventLogConfig bounds the persisted activity log.
//
// Defaults: capacity 100000, max_sessions 1000.
type EventLogConfig struct {
	Capacity    int    `json:"capacity,omitempty"`
	MaxSessions int    `json:"max_sessions,omitempty"`
	Timezone    string `json:"timezone,omitempty"` // export datetime zone
}

type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"` // default true
	Timezone string `json:"timezone,omitempty"`
	// Timeout is the wall-clock budget of one scheduled run.
	Timeout string `json:"timeout,omitempty"`
}

// EngineConfig controls the worker pool.
//
// Defaults: workers 2, queue_size 64, history_size 200.
type EngineConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// HandoffConfig holds the run timeouts. All of them are hot-reloadable.
//
// Defaults: bootstrap 30s, completion 10m, promote_grace 5s, owner_queue 16.
type HandoffConfig struct {
	BootstrapTimeout  string `json:"bootstrap_timeout,omitempty"`
	CompletionTimeout string `json:"completion_timeout,omitempty"`
	PromoteGrace      string `json:"promote_grace,omitempty"`
	OwnerQueue        int    `json:"owner_queue,omitempty"`
	SessionName       string `json:"session_name,omitempty"`
}

// DelegateConfig is the background program started for every run.
type DelegateConfig struct {
	Command    string   `json:"command"`
	Args       []string `json:"args,omitempty"`
	Entrypoint string   `json:"entrypoint,omitempty"`
	Dir        string   `json:"dir,omitempty"`
	Env        []string `json:"env,omitempty"`
	KillGrace  string   `json:"kill_grace,omitempty"`
}

// HostConfig wires the host collaborators.
type HostConfig struct {
	// ForegroundPidfile: a live pid in this file means the host application
	// is in the foreground and runs are skipped.
	ForegroundPidfile string `json:"foreground_pidfile,omitempty"`
	// ForegroundUnit: an active systemd unit has the same effect.
	ForegroundUnit string `json:"foreground_unit,omitempty"`

	PowerSupplyRoot   string   `json:"power_supply_root,omitempty"`
	LowBattery        int      `json:"low_battery,omitempty"`
	MeteredInterfaces []string `json:"metered_interfaces,omitempty"`

	// Nice is applied while a run is promoted. 0 disables the nice promoter.
	Nice int `json:"nice,omitempty"`
}

// AlertsConfig sends run outcomes to Telegram chats. Targets default to the
// owners' private chats.
type AlertsConfig struct {
	Enabled     bool    `json:"enabled"`
	ChatIDs     []int64 `json:"chat_ids,omitempty"`
	OnSuccess   bool    `json:"on_success,omitempty"`
	OnSkip      bool    `json:"on_skip,omitempty"`
	RatePerSec  int     `json:"rate_per_sec,omitempty"`
	RetryMax    int     `json:"retry_max,omitempty"`
	DedupWindow string  `json:"dedup_window,omitempty"` // default 30m
}
