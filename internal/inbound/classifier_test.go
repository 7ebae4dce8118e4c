package inbound

import (
	"context"
	"testing"
	"time"

	"wablast/internal/eventbus"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		chatID    string
		text      string
		wantOK    bool
		wantPhone string
		wantOpt   bool
	}{
		{"personal chat", "4915551234567@c.us", "hello", true, "4915551234567", false},
		{"group dropped", "4915551234567-160321@g.us", "hello", false, "", false},
		{"broadcast dropped", "4915551234567@broadcast", "hello", false, "", false},
		{"newsletter dropped", "12036304@newsletter", "hello", false, "", false},
		{"status dropped", "status@broadcast", "hello", false, "", false},
		{"too few digits", "1234567@c.us", "hello", false, "", false},
		{"too many digits", "1234567890123456@c.us", "hello", false, "", false},
		{"opt-out flagged", "628123456789@c.us", "Please STOP sending these", true, "628123456789", true},
		{"mixed case suffix", "628123456789@C.US", "hi", true, "628123456789", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := Classify(transport.Message{ChatID: tc.chatID, Text: tc.text})
			if ok != tc.wantOK {
				t.Fatalf("Classify ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if msg.Phone != tc.wantPhone {
				t.Errorf("phone = %q, want %q", msg.Phone, tc.wantPhone)
			}
			if msg.OptOut != tc.wantOpt {
				t.Errorf("optOut = %v, want %v", msg.OptOut, tc.wantOpt)
			}
			if msg.At.IsZero() {
				t.Error("At should be backfilled when the raw message has none")
			}
		})
	}
}

func TestIsOptOut(t *testing.T) {
	t.Parallel()
	cases := []struct {
		text string
		want bool
	}{
		{"STOP", true},
		{"please stop it", true},
		{"Unsubscribe me now", true},
		{"tolong berhenti", true},
		{"quiero cancelar", true},
		{"thanks, looks great", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsOptOut(tc.text); got != tc.want {
			t.Errorf("IsOptOut(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestClassifierPublishesOptOut(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	updates := make(chan transport.Update, 1)
	c := New(updates, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	updates <- transport.Update{
		Kind:    transport.UpdateMessage,
		Message: &transport.Message{ChatID: "628123456789@c.us", Text: "unsubscribe", At: time.Now()},
	}

	var gotMessage, gotOptOut bool
	deadline := time.After(3 * time.Second)
	for !gotMessage || !gotOptOut {
		select {
		case ev := <-events:
			switch ev.Type {
			case eventbus.TypeMessage:
				gotMessage = true
			case eventbus.TypeUnsubscribe:
				o := ev.Data.(OptOut)
				if o.PhoneNumber != "628123456789" {
					t.Fatalf("opt-out phone = %q", o.PhoneNumber)
				}
				gotOptOut = true
			}
		case <-deadline:
			t.Fatalf("missing events: message=%v optout=%v", gotMessage, gotOptOut)
		}
	}
}

func TestClassifierForwardsLifecycle(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	updates := make(chan transport.Update, 2)
	c := New(updates, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	updates <- transport.Update{Kind: transport.UpdateQR, QR: "qr-payload"}
	updates <- transport.Update{Kind: transport.UpdateState, State: transport.StateReady}

	want := map[string]bool{eventbus.TypeQRCode: false, eventbus.TypeStatusChange: false}
	deadline := time.After(3 * time.Second)
	for {
		done := true
		for _, seen := range want {
			if !seen {
				done = false
			}
		}
		if done {
			return
		}
		select {
		case ev := <-events:
			if _, ok := want[ev.Type]; ok {
				want[ev.Type] = true
			}
		case <-deadline:
			t.Fatalf("missing lifecycle events: %v", want)
		}
	}
}
