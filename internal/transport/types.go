package transport

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ConnState is the lifecycle state of the single network session.
// It is owned by the adapter; everyone else only reads it.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateReady        ConnState = "ready"
)

// ErrNotReady is returned by send operations while the session is not ready.
// Callers treat it as fatal to that single send only.
var ErrNotReady = errors.New("session not ready")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateState    UpdateKind = "state"
	UpdateQR       UpdateKind = "qr"
	UpdateAuthFail UpdateKind = "auth_failure"
)

// Update is one raw event coming out of the adapter. Exactly one of the
// payload fields is set, matching Kind.
type Update struct {
	Kind UpdateKind

	Message *Message
	State   ConnState
	QR      string
	Err     string
}

// Message is a raw inbound message before classification.
type Message struct {
	ChatID string // wire conversation id, e.g. "4915551234567@c.us"
	Sender string // display name if the network provided one
	Text   string
	At     time.Time
}

// ClientInfo is session metadata exposed to the caller via getClientInfo.
type ClientInfo struct {
	WireID      string    `json:"wireId"`
	PushName    string    `json:"pushName"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Client is the connection client adapter seen by the dispatcher, the health
// supervisor and the inbound classifier. Implementations own exactly one
// persistent session.
type Client interface {
	// Connect establishes (or re-establishes) the session. Calling it while
	// already connecting or ready is a no-op.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// SendText and SendMedia fail fast with ErrNotReady unless Status() is
	// StateReady. The recipient is a raw phone string; the adapter normalizes
	// it before hitting the wire.
	SendText(ctx context.Context, recipient, text string) error
	SendMedia(ctx context.Context, recipient, text, mediaRef string) error

	Status() ConnState
	Ready() bool
	Info() *ClientInfo
}
