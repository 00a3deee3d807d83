package modem

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/smsirc/smsirc/internal/comm"
	"github.com/smsirc/smsirc/internal/store"
)

type fakeDriver struct {
	sent chan comm.ModemCommand
}

func (d *fakeDriver) SendText(ctx context.Context, addr, text string) error {
	d.sent <- comm.ModemCommand{Kind: comm.ModemSendMessage, Addr: addr, Text: text}
	return nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func hiPDU() []byte {
	return []byte{
		0x00, 0x04, 0x0B, 0x91,
		0x51, 0x55, 0x21, 0x43, 0x65, 0xF7,
		0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x02, 0xC8, 0x34,
	}
}

func TestIngestPDU_StoresMessageAndNotifies(t *testing.T) {
	s := openTestStore(t)
	var notified string
	m := New(s, &fakeDriver{sent: make(chan comm.ModemCommand, 1)}, func(addr string) { notified = addr })

	if err := m.IngestPDU(hiPDU()); err != nil {
		t.Fatalf("ingest pdu: %v", err)
	}

	if notified != "+15551234567" {
		t.Fatalf("expected notify for +15551234567, got %q", notified)
	}

	msgs, err := s.GetMessagesForRecipient("+15551234567")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(msgs))
	}
}

func TestConsumeCommands_SubmitsToDriver(t *testing.T) {
	s := openTestStore(t)
	driver := &fakeDriver{sent: make(chan comm.ModemCommand, 1)}
	m := New(s, driver, nil)

	in := make(chan comm.ModemCommand, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go m.ConsumeCommands(ctx, in)
	in <- comm.ModemCommand{Kind: comm.ModemSendMessage, Addr: "+15551234567", Text: "pong"}

	select {
	case got := <-driver.sent:
		if got.Addr != "+15551234567" || got.Text != "pong" {
			t.Fatalf("unexpected submitted command: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("driver never received submitted command")
	}
}
