package notifier

import (
	"context"
	"time"

	kit "bgsync/internal/transport"
)

// Config controls which runs alert and how delivery is paced.
type Config struct {
	Enabled bool
	// Targets receive every alert.
	Targets   []kit.ChatTarget
	OnSuccess bool
	OnSkip    bool

	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Sender delivers one message. The Telegram adapter satisfies it.
type Sender interface {
	SendText(ctx context.Context, target kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type HistoryItem struct {
	At     time.Time
	Target kit.ChatTarget
	Text   string
}

// AlertEvent is published on the bus for alert delivery outcomes.
type AlertEvent struct {
	ChatID int64     `json:"chat_id"`
	Key    string    `json:"key"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

const (
	EventQueued  = "alert.queued"
	EventDeduped = "alert.deduped"
	EventDropped = "alert.dropped"
	EventSent    = "alert.sent"
	EventFailed  = "alert.failed"
)
