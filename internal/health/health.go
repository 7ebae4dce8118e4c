// Package health keeps the gateway session alive. A fixed-interval ticker
// polls the adapter, rebroadcasts the status, and kicks off a reconnect while
// disconnected. Reconnect is idempotent at the adapter, so every tick is an
// independent attempt with no backoff between ticks.
package health

import (
	"context"
	"time"

	"wablast/internal/eventbus"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

const defaultInterval = 30 * time.Second

type Service struct {
	client   transport.Client
	bus      eventbus.Bus
	log      logx.Logger
	interval time.Duration
}

func New(client transport.Client, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{client: client, bus: bus, log: log, interval: defaultInterval}
}

// SetInterval overrides the poll interval. Used by tests.
func (s *Service) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Run blocks until ctx is canceled. Meant to live under a supervisor.
func (s *Service) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	st := s.client.Status()
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeStatusChange, Data: st})

	if st != transport.StateDisconnected {
		return
	}
	s.log.Info("session disconnected; attempting reconnect")
	if err := s.client.Connect(ctx); err != nil {
		s.log.Warn("reconnect attempt failed", logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeError, Data: map[string]string{
			"type":    "reconnect",
			"message": err.Error(),
		}})
	}
}
