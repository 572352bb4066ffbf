package telegraph

import (
	"context"
	"errors"
	"testing"
	"time"
)

// Compile-time interface compliance checks.
var _ Adapter = (*MockAdapter)(nil)

func TestMockAdapter_ConnectAndClose(t *testing.T) {
	m := NewMockAdapter("alice_bot")
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Connect(ctx); err == nil {
		t.Fatal("Connect after Close should fail")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("double Close should succeed: %v", err)
	}
}

func TestMockAdapter_FailConnect(t *testing.T) {
	m := NewMockAdapter("alice_bot")
	m.FailConnect(ErrUnauthorized)
	if err := m.Connect(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Connect error = %v, want ErrUnauthorized", err)
	}
}

func TestMockAdapter_SendRequiresConnect(t *testing.T) {
	m := NewMockAdapter("alice_bot")
	if _, err := m.Send(context.Background(), OutboundMessage{Text: "hello"}); err == nil {
		t.Fatal("Send before Connect should fail")
	}
}

func TestMockAdapter_SendAssignsIDs(t *testing.T) {
	m := NewMockAdapter("alice_bot")
	ctx := context.Background()
	m.Connect(ctx)

	id1, _ := m.Send(ctx, OutboundMessage{ChatID: 1, Text: "a"})
	id2, _ := m.Send(ctx, OutboundMessage{ChatID: 1, Text: "b"})
	if id1 == 0 || id2 == id1 {
		t.Fatalf("ids = %d, %d; want distinct non-zero", id1, id2)
	}
	if err := m.Edit(ctx, 1, id1, "a2", RenderRich); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	edits := m.AllEdits()
	if len(edits) != 1 || edits[0].MessageID != id1 || edits[0].Mode != RenderRich {
		t.Fatalf("edits = %+v", edits)
	}
}

func TestMockAdapter_FailSendIsTransient(t *testing.T) {
	m := NewMockAdapter("alice_bot")
	ctx := context.Background()
	m.Connect(ctx)
	m.FailSend(errors.New("429"))

	_, err := m.Send(ctx, OutboundMessage{Text: "x"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("Send error = %v, want ErrTransient", err)
	}
	if m.SentCount() != 0 {
		t.Fatal("failed send should not be recorded")
	}
}

func TestMockAdapter_ListenClosesOnCancel(t *testing.T) {
	m := NewMockAdapter("alice_bot")
	ctx, cancel := context.WithCancel(context.Background())
	m.Connect(ctx)

	ch, err := m.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if !m.SimulateInbound(Event{ChatID: 7, Kind: EventText, Text: "hi"}) {
		t.Fatal("SimulateInbound should deliver while open")
	}
	ev := <-ch
	if ev.ChatID != 7 || ev.Timestamp.IsZero() {
		t.Fatalf("event = %+v", ev)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	if m.SimulateInbound(Event{}) {
		t.Fatal("SimulateInbound after close should report false")
	}
}

func TestMockAdapter_FileURL(t *testing.T) {
	m := NewMockAdapter("alice_bot")
	m.SetFileURL("f1", "http://files/f1.pdf")
	u, err := m.FileURL(context.Background(), "f1")
	if err != nil || u != "http://files/f1.pdf" {
		t.Fatalf("FileURL = %q, %v", u, err)
	}
	if _, err := m.FileURL(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown file")
	}
}
