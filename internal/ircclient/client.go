// Package ircclient is a small send/receive-stream IRC client: Dial opens a
// connection and returns a Client whose Messages channel carries parsed
// inbound lines, while Send/SendRaw write outbound lines straight to the
// connection under a mutex. It implements only the wire mechanics the bridge core needs
// (registration, PRIVMSG/NOTICE/JOIN/PART/AWAY, raw WEBIRC/WATCH, and
// PING/PONG keepalive) — it is not a general-purpose IRC library.
package ircclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
)

// Config describes one connection. It is consumed synchronously by Dial —
// nothing retains a reference to it afterward — which is what keeps this
// package free of the borrowed-config lifetime hazard a hand-rolled
// poll-based client would otherwise have to work around with a leak/reclaim
// trick: Dial simply runs to completion on the caller's goroutine before
// returning, so the config only needs to outlive one ordinary function
// call.
type Config struct {
	Host     string
	Port     int
	TLS      bool
	Password string // server PASS, optional
}

// Client is a live connection to one IRC server. Callers drive its outbound
// side with Send/SendRaw and its inbound side by ranging over Messages.
// Both are safe to use from the single goroutine that owns the Client; no
// internal locking is needed for that path because Go's channels already
// serialize the handoff. Writes are additionally safe from other
// goroutines, guarded by a mutex, since some command producers (the
// contact actor's inbox handlers) may run concurrently with the read loop.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex

	messages chan Message
	errc     chan error
}

// Dial opens the TCP (or TLS) connection, sends the server PASS if one is
// configured, and starts the background read loop. It does not send
// NICK/USER — identification is the caller's one-shot step, per the
// bridge's event loop ordering.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if cfg.TLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("ircclient: dial %s: %w", addr, err)
	}

	c := &Client{
		conn:     conn,
		messages: make(chan Message, 64),
		errc:     make(chan error, 1),
	}

	if cfg.Password != "" {
		if err := c.SendRaw(FormatMessage("PASS", cfg.Password)); err != nil {
			conn.Close()
			return nil, err
		}
	}

	go c.readLoop()

	return c, nil
}

// Messages is the inbound event stream. It is closed when the connection
// ends; a receive on a closed channel yields the zero Message, so callers
// should check Err() after observing the channel close to distinguish a
// clean close from a read failure — per the bridge's contract, any stream
// termination is treated as fatal regardless of cause.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Err returns the terminal read error, if the stream ended abnormally; nil
// if Messages was closed because the peer closed the connection cleanly.
func (c *Client) Err() error {
	select {
	case err := <-c.errc:
		return err
	default:
		return nil
	}
}

func (c *Client) readLoop() {
	defer close(c.messages)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 4096), 65536)
	for scanner.Scan() {
		msg := ParseMessage(scanner.Text())
		if msg.Command == "PING" {
			// Answered here so the connection survives server ping-timeouts
			// even while the owning actor is busy; PINGs never reach Messages.
			if err := c.SendRaw(FormatMessage("PONG", msg.Params...)); err != nil {
				c.errc <- err
				return
			}
			continue
		}
		c.messages <- msg
	}
	if err := scanner.Err(); err != nil {
		c.errc <- err
	}
}

// SendRaw writes one raw line, appending the CRLF terminator.
func (c *Client) SendRaw(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := fmt.Fprintf(c.conn, "%s\r\n", line)
	if err != nil {
		return fmt.Errorf("ircclient: write: %w", err)
	}
	return nil
}

// Send formats command and params and writes the resulting line.
func (c *Client) Send(command string, params ...string) error {
	return c.SendRaw(FormatMessage(command, params...))
}

// Identify sends the standard NICK/USER registration pair.
func (c *Client) Identify(nick, user, realname string) error {
	if err := c.Send("NICK", nick); err != nil {
		return err
	}
	return c.Send("USER", user, "0", "*", realname)
}

// IdentifyWebIRC sends the WEBIRC gateway line ahead of standard
// registration, declaring the end client's real address and synthetic
// vhost to the server.
func (c *Client) IdentifyWebIRC(password, gateway, vhost, ip string) error {
	return c.Send("WEBIRC", password, gateway, vhost, ip)
}

// Close tears down the connection; the read loop observes this as an error
// or a clean EOF and closes Messages.
func (c *Client) Close() error {
	return c.conn.Close()
}
