package scheduler

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays the first run of an interval schedule by a random
// offset so many registrations at startup do not fire together.
type spreadSchedule struct {
	every cron.ConstantDelaySchedule
	first time.Time
}

func (s spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}

func newSpreadSchedule(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return cron.Every(every), 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewPCG(uint64(now.UnixNano()), h.Sum64()))
	jitter := time.Duration(rng.Int64N(int64(window)))
	return spreadSchedule{every: cron.Every(every), first: now.Add(every + jitter)}, jitter
}
