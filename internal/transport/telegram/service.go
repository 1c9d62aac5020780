package telegram

import (
	"context"
	"time"

	"bgsync/internal/runtime/supervisor"
	kit "bgsync/internal/transport"
	"bgsync/internal/transport/telegram/adapter"
	"bgsync/internal/transport/telegram/router"
	logx "bgsync/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	Owners      []int64
}

// Service owns the bot adapter and the command dispatcher.
type Service struct {
	ad  *adapter.Adapter
	mgr *router.CommandManager
	log logx.Logger
	sup *supervisor.Supervisor
}

func New(cfg Config, d Deps, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	ad, err := adapter.New(adapter.Config{Token: cfg.Token, PollTimeout: cfg.PollTimeout}, log.Component("telegram.adapter"))
	if err != nil {
		return nil, err
	}
	mgr := router.NewCommandManager(log.Component("telegram.router"), ad, cfg.Owners)
	s := &Service{ad: ad, mgr: mgr, log: log}
	mgr.SetRegistry(context.Background(), Commands(d))
	return s, nil
}

// Sender is the log sink target (logx.Sender).
func (s *Service) Sender() *adapter.Adapter { return s.ad }

// SetOwners applies a reloaded owner list.
func (s *Service) SetOwners(owners []int64) { s.mgr.SetOwners(owners) }

func (s *Service) Start(ctx context.Context) error {
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false))
	updates := make(chan kit.Update, 64)
	if err := s.ad.Start(s.sup.Context(), updates); err != nil {
		return err
	}
	s.sup.Go("telegram.dispatch", func(c context.Context) error {
		return s.mgr.DispatchLoop(c, updates)
	})
	s.log.Info("telegram command surface started")
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.sup == nil {
		return nil
	}
	_ = s.ad.Stop(ctx)
	return s.sup.Stop(ctx)
}
