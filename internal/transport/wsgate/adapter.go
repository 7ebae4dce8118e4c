package wsgate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	rtsup "wablast/internal/runtime/supervisor"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

// Gorilla read-side tuning, following the upstream chat example.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512 * 1024
)

// Adapter owns the single persistent gateway session. It implements
// transport.Client and feeds raw updates to whoever consumes Updates().
type Adapter struct {
	cfg Config
	log logx.Logger

	limiter *rate.Limiter
	updates chan transport.Update
	// droppedUpdates counts updates dropped because the consumer was slower
	// than the read pump. Logged periodically to avoid per-update spam.
	droppedUpdates uint64

	mu    sync.Mutex
	state transport.ConnState
	conn  *websocket.Conn
	info  *transport.ClientInfo
	sup   *rtsup.Supervisor

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan frame

	media *mediaCache
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, errors.New("gateway url is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	mc, err := newMediaCache(cfg.MediaDir, cfg.MediaRetryMax, log)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		updates: make(chan transport.Update, 256),
		state:   transport.StateDisconnected,
		pending: map[string]chan frame{},
		media:   mc,
	}, nil
}

// Updates returns the raw event stream. The channel is never closed; slow
// consumers lose events rather than blocking the read pump.
func (a *Adapter) Updates() <-chan transport.Update { return a.updates }

func (a *Adapter) Status() transport.ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) Ready() bool { return a.Status() == transport.StateReady }

func (a *Adapter) Info() *transport.ClientInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.info == nil {
		return nil
	}
	cp := *a.info
	return &cp
}

// Connect dials the gateway and starts the session loops. Calling it while
// already connecting or ready is a no-op.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state != transport.StateDisconnected {
		a.mu.Unlock()
		return nil
	}
	a.state = transport.StateConnecting
	a.mu.Unlock()
	a.pushUpdate(transport.Update{Kind: transport.UpdateState, State: transport.StateConnecting})

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		a.teardown("dial failed")
		return errors.Wrap(err, "gateway dial")
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	sup := rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "wsgate"))),
		rtsup.WithCancelOnError(false),
	)

	a.mu.Lock()
	a.conn = conn
	a.sup = sup
	a.mu.Unlock()

	if err := a.writeFrame(frame{Type: frameAuth, Token: a.cfg.Token}); err != nil {
		a.teardown("auth write failed")
		return errors.Wrap(err, "auth frame")
	}

	sup.Go0("wsgate.read", func(c context.Context) { a.readPump(c, conn) })
	sup.Go0("wsgate.ping", func(c context.Context) { a.pingLoop(c, conn) })
	sup.Go0("wsgate.drop_report", func(c context.Context) { a.dropReport(c) })
	sup.Go0("wsgate.close_on_cancel", func(c context.Context) {
		<-c.Done()
		_ = conn.Close()
	})

	a.log.Info("gateway session connecting", logx.String("url", a.cfg.URL))
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	conn := a.conn
	a.sup = nil
	a.conn = nil
	wasDisconnected := a.state == transport.StateDisconnected
	a.state = transport.StateDisconnected
	a.info = nil
	a.mu.Unlock()

	if wasDisconnected {
		return nil
	}

	a.failPending(transport.ErrNotReady)
	a.media.purge()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
	}
	if sup != nil {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = sup.Wait(wctx)
	}

	a.pushUpdate(transport.Update{Kind: transport.UpdateState, State: transport.StateDisconnected})
	a.log.Info("gateway session disconnected")
	return nil
}

func (a *Adapter) SendText(ctx context.Context, recipient, text string) error {
	return a.send(ctx, recipient, text, "")
}

func (a *Adapter) SendMedia(ctx context.Context, recipient, text, mediaRef string) error {
	if mediaRef == "" {
		return a.send(ctx, recipient, text, "")
	}
	path, err := a.media.fetch(ctx, mediaRef)
	if err != nil {
		return err
	}
	return a.send(ctx, recipient, text, path)
}

func (a *Adapter) send(ctx context.Context, recipient, text, mediaPath string) error {
	if !a.Ready() {
		return transport.ErrNotReady
	}
	to := NormalizeRecipient(recipient, a.cfg.CountryCode, a.cfg.Suffix)
	if to == "" {
		return errors.Newf("recipient %q has no digits", recipient)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	// Ready may have flipped while throttled.
	if !a.Ready() {
		return transport.ErrNotReady
	}

	id := uuid.NewString()
	ackCh := make(chan frame, 1)
	a.pendingMu.Lock()
	a.pending[id] = ackCh
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
	}()

	if err := a.writeFrame(frame{Type: frameSend, ID: id, To: to, Body: text, MediaPath: mediaPath}); err != nil {
		return errors.Wrap(err, "send frame")
	}

	timer := time.NewTimer(a.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Newf("send %s: ack timeout after %s", id, a.cfg.SendTimeout)
	case ack := <-ackCh:
		if !ack.OK {
			return errors.Newf("gateway rejected send: %s", ack.Error)
		}
		return nil
	}
}

func (a *Adapter) writeFrame(f frame) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return transport.ErrNotReady
	}
	b, err := f.marshal()
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (a *Adapter) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() == nil {
				a.log.Warn("gateway read failed", logx.Err(err))
				a.teardown("read failed")
			}
			return
		}
		a.handleFrame(f)
	}
}

func (a *Adapter) handleFrame(f frame) {
	switch f.Type {
	case frameQR:
		a.pushUpdate(transport.Update{Kind: transport.UpdateQR, QR: f.Challenge})
	case frameAuthOK:
		a.mu.Lock()
		a.info = &transport.ClientInfo{WireID: f.WireID, PushName: f.PushName, ConnectedAt: time.Now()}
		a.mu.Unlock()
		a.log.Info("session authenticated", logx.String("wire_id", f.WireID))
	case frameReady:
		a.mu.Lock()
		a.state = transport.StateReady
		if a.info == nil {
			a.info = &transport.ClientInfo{WireID: f.WireID, PushName: f.PushName, ConnectedAt: time.Now()}
		}
		a.mu.Unlock()
		a.pushUpdate(transport.Update{Kind: transport.UpdateState, State: transport.StateReady})
		a.log.Info("session ready")
	case frameAuthFail:
		a.pushUpdate(transport.Update{Kind: transport.UpdateAuthFail, Err: f.Error})
		a.teardown("auth failed")
	case frameAck:
		a.pendingMu.Lock()
		ch := a.pending[f.ID]
		a.pendingMu.Unlock()
		if ch != nil {
			select {
			case ch <- f:
			default:
			}
		}
	case frameMessage:
		at := time.Now()
		if f.TS > 0 {
			at = time.Unix(f.TS, 0)
		}
		a.pushUpdate(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
			ChatID: f.ChatID,
			Sender: f.Sender,
			Text:   f.Text,
			At:     at,
		}})
	default:
		a.log.Debug("unknown frame ignored", logx.String("type", f.Type))
	}
}

func (a *Adapter) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(a.cfg.PingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			a.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (a *Adapter) dropReport(ctx context.Context) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	report := func() {
		if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
			a.log.Warn("inbound updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(a.updates)))
		}
	}
	for {
		select {
		case <-ctx.Done():
			report()
			return
		case <-t.C:
			report()
		}
	}
}

// teardown handles an involuntary session loss: mark disconnected, purge the
// media cache, fail in-flight sends, tell the world.
func (a *Adapter) teardown(reason string) {
	a.mu.Lock()
	if a.state == transport.StateDisconnected {
		a.mu.Unlock()
		return
	}
	a.state = transport.StateDisconnected
	a.info = nil
	sup := a.sup
	a.sup = nil
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if sup != nil {
		sup.Cancel()
	}
	a.failPending(transport.ErrNotReady)
	a.media.purge()
	a.pushUpdate(transport.Update{Kind: transport.UpdateState, State: transport.StateDisconnected})
	a.log.Warn("gateway session lost", logx.String("reason", reason))
}

func (a *Adapter) failPending(err error) {
	a.pendingMu.Lock()
	for id, ch := range a.pending {
		select {
		case ch <- frame{Type: frameAck, ID: id, OK: false, Error: err.Error()}:
		default:
		}
	}
	a.pendingMu.Unlock()
}

func (a *Adapter) pushUpdate(up transport.Update) {
	select {
	case a.updates <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}
