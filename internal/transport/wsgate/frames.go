package wsgate

import "encoding/json"

// Wire frames exchanged with the gateway. The gateway multiplexes one
// authenticated chat-network session per socket.

const (
	frameAuth     = "auth"      // client -> gateway, carries token
	frameQR       = "qr"        // gateway -> client, scannable challenge
	frameAuthOK   = "auth_ok"   // gateway -> client, session authenticated
	frameAuthFail = "auth_fail" // gateway -> client, credentials invalid
	frameReady    = "ready"     // gateway -> client, session usable
	frameSend     = "send"      // client -> gateway, outbound message
	frameAck      = "ack"       // gateway -> client, send result
	frameMessage  = "message"   // gateway -> client, inbound message
)

type frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// auth
	Token string `json:"token,omitempty"`

	// qr
	Challenge string `json:"challenge,omitempty"`

	// auth_ok / ready
	WireID   string `json:"wire_id,omitempty"`
	PushName string `json:"push_name,omitempty"`

	// send
	To        string `json:"to,omitempty"`
	Body      string `json:"body,omitempty"`
	MediaPath string `json:"media_path,omitempty"`

	// ack / auth_fail
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`

	// message
	ChatID string `json:"chat_id,omitempty"`
	Sender string `json:"sender,omitempty"`
	Text   string `json:"text,omitempty"`
	TS     int64  `json:"ts,omitempty"`
}

func (f frame) marshal() ([]byte, error) { return json.Marshal(f) }
