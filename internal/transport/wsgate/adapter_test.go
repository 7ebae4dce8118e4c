package wsgate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

// fakeGateway is an in-process gateway: it authenticates the socket, reports
// ready, acks sends and can inject inbound frames.
type fakeGateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conn  *websocket.Conn
	sends []frame

	rejectBody string // sends with this body get a failed ack
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	var auth frame
	if err := conn.ReadJSON(&auth); err != nil || auth.Type != frameAuth {
		_ = conn.Close()
		return
	}
	if auth.Token == "bad-token" {
		_ = conn.WriteJSON(frame{Type: frameAuthFail, Error: "invalid token"})
		_ = conn.Close()
		return
	}
	_ = conn.WriteJSON(frame{Type: frameAuthOK, WireID: "628123456789@c.us", PushName: "Blaster"})
	_ = conn.WriteJSON(frame{Type: frameReady, WireID: "628123456789@c.us", PushName: "Blaster"})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Type != frameSend {
			continue
		}
		g.mu.Lock()
		g.sends = append(g.sends, f)
		reject := g.rejectBody != "" && f.Body == g.rejectBody
		g.mu.Unlock()
		if reject {
			_ = conn.WriteJSON(frame{Type: frameAck, ID: f.ID, OK: false, Error: "blocked recipient"})
			continue
		}
		_ = conn.WriteJSON(frame{Type: frameAck, ID: f.ID, OK: true})
	}
}

func (g *fakeGateway) inject(t *testing.T, f frame) {
	t.Helper()
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		t.Fatal("no gateway connection")
	}
	if err := conn.WriteJSON(f); err != nil {
		t.Fatal(err)
	}
}

func (g *fakeGateway) sentFrames() []frame {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]frame(nil), g.sends...)
}

func newTestAdapter(t *testing.T, g *fakeGateway, token string) *Adapter {
	t.Helper()
	a, err := New(Config{
		URL:         g.url(),
		Token:       token,
		CountryCode: "62",
		MediaDir:    t.TempDir(),
		SendTimeout: 2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })
	return a
}

func waitReady(t *testing.T, a *Adapter) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !a.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("adapter never became ready (state %s)", a.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectAndSend(t *testing.T) {
	g := newFakeGateway(t)
	a := newTestAdapter(t, g, "secret")

	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	// Second Connect while the session is live must be a no-op.
	if err := a.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	waitReady(t, a)

	info := a.Info()
	if info == nil || info.WireID != "628123456789@c.us" {
		t.Fatalf("info = %+v", info)
	}

	if err := a.SendText(ctx, "08123456789", "hello"); err != nil {
		t.Fatal(err)
	}
	sends := g.sentFrames()
	if len(sends) != 1 {
		t.Fatalf("gateway saw %d sends", len(sends))
	}
	if sends[0].To != "628123456789@c.us" {
		t.Errorf("recipient on the wire = %q, want normalized id", sends[0].To)
	}
}

func TestSendRejectedByGateway(t *testing.T) {
	g := newFakeGateway(t)
	g.rejectBody = "spam"
	a := newTestAdapter(t, g, "secret")

	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	waitReady(t, a)

	err := a.SendText(ctx, "628123456789", "spam")
	if err == nil || !strings.Contains(err.Error(), "blocked recipient") {
		t.Fatalf("err = %v, want gateway rejection", err)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	g := newFakeGateway(t)
	a := newTestAdapter(t, g, "secret")

	err := a.SendText(context.Background(), "628123456789", "hello")
	if !errors.Is(err, transport.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestInboundMessageUpdate(t *testing.T) {
	g := newFakeGateway(t)
	a := newTestAdapter(t, g, "secret")

	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	waitReady(t, a)

	g.inject(t, frame{Type: frameMessage, ChatID: "4915551234567@c.us", Sender: "K", Text: "stop", TS: time.Now().Unix()})

	deadline := time.After(3 * time.Second)
	for {
		select {
		case up := <-a.Updates():
			if up.Kind != transport.UpdateMessage {
				continue // state updates from the connect handshake
			}
			if up.Message.ChatID != "4915551234567@c.us" || up.Message.Text != "stop" {
				t.Fatalf("message = %+v", up.Message)
			}
			return
		case <-deadline:
			t.Fatal("no message update")
		}
	}
}

func TestAuthFailureTearsDown(t *testing.T) {
	g := newFakeGateway(t)
	a := newTestAdapter(t, g, "bad-token")

	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	sawAuthFail := false
	deadline := time.After(3 * time.Second)
	for a.Status() != transport.StateDisconnected || !sawAuthFail {
		select {
		case up := <-a.Updates():
			if up.Kind == transport.UpdateAuthFail {
				sawAuthFail = true
			}
		case <-deadline:
			t.Fatalf("state = %s, authFail seen = %v", a.Status(), sawAuthFail)
		}
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	a := newTestAdapter(t, g, "secret")

	ctx := context.Background()
	if err := a.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	waitReady(t, a)

	if err := a.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if a.Status() != transport.StateDisconnected {
		t.Fatalf("state = %s", a.Status())
	}
	if a.Info() != nil {
		t.Error("client info should be cleared on disconnect")
	}
}
