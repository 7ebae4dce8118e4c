package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"wablast/internal/eventbus"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

type probeClient struct {
	state    atomic.Value // transport.ConnState
	connects atomic.Int64
}

func newProbeClient(st transport.ConnState) *probeClient {
	c := &probeClient{}
	c.state.Store(st)
	return c
}

func (c *probeClient) Connect(context.Context) error {
	c.connects.Add(1)
	c.state.Store(transport.StateReady)
	return nil
}

func (c *probeClient) Disconnect(context.Context) error { return nil }
func (c *probeClient) Status() transport.ConnState      { return c.state.Load().(transport.ConnState) }
func (c *probeClient) Ready() bool                      { return c.Status() == transport.StateReady }
func (c *probeClient) Info() *transport.ClientInfo      { return nil }

func (c *probeClient) SendText(context.Context, string, string) error { return nil }
func (c *probeClient) SendMedia(context.Context, string, string, string) error {
	return nil
}

func TestTickRebroadcastsStatus(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc := New(newProbeClient(transport.StateReady), bus, logx.Nop())
	svc.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	select {
	case ev := <-events:
		if ev.Type != eventbus.TypeStatusChange {
			t.Fatalf("event type = %q", ev.Type)
		}
		if ev.Data != transport.StateReady {
			t.Fatalf("status = %v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no status-change tick")
	}
}

func TestTickReconnectsWhenDisconnected(t *testing.T) {
	bus := eventbus.New()
	client := newProbeClient(transport.StateDisconnected)

	svc := New(client, bus, logx.Nop())
	svc.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	deadline := time.After(time.Second)
	for client.connects.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no reconnect attempt")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if client.Status() != transport.StateReady {
		t.Fatal("reconnect did not restore the session")
	}
}

func TestTickLeavesHealthySessionAlone(t *testing.T) {
	bus := eventbus.New()
	client := newProbeClient(transport.StateReady)

	svc := New(client, bus, logx.Nop())
	svc.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	if n := client.connects.Load(); n != 0 {
		t.Fatalf("connects = %d, want 0 while ready", n)
	}
}
