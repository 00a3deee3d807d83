package ircclient

import (
	"bufio"
	"net"
	"testing"
	"time"
)

func TestReadLoop_RespondsToPing(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := &Client{
		conn:     client,
		messages: make(chan Message, 4),
		errc:     make(chan error, 1),
	}
	go c.readLoop()

	go func() {
		server.Write([]byte("PING :irc.example.net\r\n"))
	}()

	reader := bufio.NewReader(server)
	server.SetReadDeadline(time.Now().Add(time.Second))
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if line != "PONG irc.example.net\r\n" {
		t.Fatalf("expected PONG reply, got %q", line)
	}

	// The PING must be answered in the read loop, never surfaced to the
	// owning actor.
	select {
	case msg := <-c.messages:
		t.Fatalf("expected no message forwarded for PING, got %+v", msg)
	default:
	}

	server.Close()
	select {
	case _, ok := <-c.messages:
		if ok {
			t.Fatalf("expected messages channel to close after connection end")
		}
	case <-time.After(time.Second):
		t.Fatalf("messages channel never closed")
	}
}
