// Package inbound filters and tags raw adapter events before they reach the
// caller. Non-personal conversations are dropped, identifiers are validated,
// and opt-out requests are flagged by keyword.
package inbound

import (
	"context"
	"strings"
	"time"

	"wablast/internal/eventbus"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

// Phone identifiers outside this digit range are treated as malformed and the
// event is dropped.
const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// Conversation id suffixes that mark group/broadcast/channel traffic.
var excludedSuffixes = []string{"@g.us", "@broadcast", "@newsletter"}

// optOutKeywords is matched case-insensitively as a substring against the
// message body. Multi-language on purpose; matching is intentionally naive.
var optOutKeywords = []string{
	"stop",
	"unsubscribe",
	"cancel",
	"berhenti",
	"baja",
	"cancelar",
	"arret",
	"arrêt",
	"desinscrever",
	"abbestellen",
}

// InboundMessage is the normalized message-received payload.
type InboundMessage struct {
	Phone  string    `json:"phone"`
	Sender string    `json:"sender,omitempty"`
	Text   string    `json:"text"`
	OptOut bool      `json:"optOut"`
	At     time.Time `json:"at"`
}

// OptOut is the unsubscribe-detected payload.
type OptOut struct {
	PhoneNumber string    `json:"phoneNumber"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

type Classifier struct {
	updates <-chan transport.Update
	bus     eventbus.Bus
	log     logx.Logger
}

func New(updates <-chan transport.Update, bus eventbus.Bus, log logx.Logger) *Classifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Classifier{updates: updates, bus: bus, log: log}
}

// Run consumes adapter updates until ctx is canceled. Connection lifecycle
// updates are forwarded as-is; messages go through Classify.
func (c *Classifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-c.updates:
			c.handle(up)
		}
	}
}

func (c *Classifier) handle(up transport.Update) {
	switch up.Kind {
	case transport.UpdateQR:
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeQRCode, Data: up.QR})
	case transport.UpdateState:
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeStatusChange, Data: up.State})
	case transport.UpdateAuthFail:
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeError, Data: map[string]string{
			"type":    "auth",
			"message": up.Err,
		}})
	case transport.UpdateMessage:
		if up.Message == nil {
			return
		}
		msg, ok := Classify(*up.Message)
		if !ok {
			return
		}
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeMessage, Data: msg})
		if msg.OptOut {
			c.log.Info("opt-out detected", logx.String("phone", msg.Phone))
			c.bus.Publish(eventbus.Event{Type: eventbus.TypeUnsubscribe, Data: OptOut{
				PhoneNumber: msg.Phone,
				Message:     msg.Text,
				Timestamp:   msg.At,
			}})
		}
	}
}

// Classify normalizes one raw message. ok is false when the event should be
// dropped: non-personal conversation or malformed phone identifier.
func Classify(m transport.Message) (InboundMessage, bool) {
	chat := strings.ToLower(strings.TrimSpace(m.ChatID))
	for _, suf := range excludedSuffixes {
		if strings.HasSuffix(chat, suf) {
			return InboundMessage{}, false
		}
	}
	if strings.HasPrefix(chat, "status@") {
		return InboundMessage{}, false
	}

	phone := digitsOf(chat)
	if len(phone) < minPhoneDigits || len(phone) > maxPhoneDigits {
		return InboundMessage{}, false
	}

	at := m.At
	if at.IsZero() {
		at = time.Now()
	}
	return InboundMessage{
		Phone:  phone,
		Sender: m.Sender,
		Text:   m.Text,
		OptOut: IsOptOut(m.Text),
		At:     at,
	}, true
}

// IsOptOut reports whether the body contains any opt-out keyword,
// case-insensitively, as a plain substring.
func IsOptOut(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range optOutKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func digitsOf(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
