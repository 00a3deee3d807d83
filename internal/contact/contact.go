// Package contact implements the Contact Manager: a per-correspondent
// actor that owns an IRC client connection, mediates between the durable
// Store and live IRC traffic, tracks the administrator's presence to queue
// messages, and mode-switches a correspondent between SMS and WhatsApp
// transports.
//
// Each Manager runs as a single goroutine with no internal locking. All
// of its state is private to that goroutine, and the only cross-goroutine
// communication is through channels: its inbox, and the outbound modem/
// WhatsApp command channels. A select over the IRC message stream and the
// command inbox means every event and every command is handled to
// completion before the next one is looked at, so there is no reentrancy
// to reason about.
package contact

import (
	"context"
	"fmt"
	"strings"

	"github.com/smsirc/smsirc/internal/comm"
	"github.com/smsirc/smsirc/internal/ircclient"
	"github.com/smsirc/smsirc/internal/pdu"
	"github.com/smsirc/smsirc/internal/store"
)

// ircConn is the slice of *ircclient.Client that Manager depends on. It
// exists so tests can drive a Manager against a fake connection instead of
// a real TCP dial.
type ircConn interface {
	Send(command string, params ...string) error
	Messages() <-chan ircclient.Message
	Err() error
	Close() error
	Identify(nick, user, realname string) error
	IdentifyWebIRC(password, gateway, vhost, ip string) error
}

// Manager is one contact actor.
type Manager struct {
	addr           string
	nick           string
	admin          string
	webircPassword string
	vhostSuffix    string

	ircHost     string
	ircPort     int
	ircTLS      bool
	ircPassword string

	client ircConn
	store  *store.Store

	waMode      bool
	identified  bool
	connected   bool
	adminOnline bool
	presence    string
	channels    map[string]struct{}
	opped       map[string]struct{} // "channel nick" pairs already granted +o

	inbox   chan comm.ContactManagerCommand
	toModem chan<- comm.ModemCommand
	toWA    chan<- comm.WhatsappCommand
}

// New constructs a Manager from its init parameters. The recipient's
// current nick and transport mode are read from the Store so a restarted
// actor resumes with the correspondent's last-known state.
func New(p comm.InitParameters) (*Manager, error) {
	r, err := p.Store.GetOrCreateRecipient(p.Addr)
	if err != nil {
		return nil, fmt.Errorf("contact %s: load recipient: %w", p.Addr, err)
	}

	return &Manager{
		addr:           r.Phone,
		nick:           r.Nick,
		admin:          p.Admin,
		webircPassword: p.WebIRCPassword,
		vhostSuffix:    p.VhostSuffix,
		ircHost:        p.IRCHost,
		ircPort:        p.IRCPort,
		ircTLS:         p.IRCTLS,
		ircPassword:    p.IRCPassword,
		store:          p.Store,
		waMode:         r.Whatsapp,
		channels:       make(map[string]struct{}),
		opped:          make(map[string]struct{}),
		inbox:          p.Inbox,
		toModem:        p.ToModem,
		toWA:           p.ToWA,
	}, nil
}

// Run dials the IRC server, identifies, and drives the event loop until the
// context is cancelled or a fatal error occurs — stream termination,
// server ERROR, or a delete-after-deliver failure. A fatal error here kills
// only this actor; the supervisor decides whether to respawn it.
func (m *Manager) Run(ctx context.Context) error {
	client, err := ircclient.Dial(ctx, ircclient.Config{
		Host:     m.ircHost,
		Port:     m.ircPort,
		TLS:      m.ircTLS,
		Password: m.ircPassword,
	})
	if err != nil {
		return fmt.Errorf("contact %s: dial: %w", m.addr, err)
	}
	m.client = client
	defer client.Close()

	if err := m.identify(); err != nil {
		return fmt.Errorf("contact %s: identify: %w", m.addr, err)
	}

	return m.runLoop(ctx)
}

// runLoop is the event loop proper, assuming m.client is already set and
// identified. It is split out from Run so tests can drive it against a
// fake connection without a real dial.
func (m *Manager) runLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-m.client.Messages():
			if !ok {
				if err := m.client.Err(); err != nil {
					return fmt.Errorf("contact %s: irc stream error: %w", m.addr, err)
				}
				return fmt.Errorf("contact %s: irc stream ended", m.addr)
			}
			if err := m.handleIRCMessage(msg); err != nil {
				return err
			}

		case cmd, ok := <-m.inbox:
			if !ok {
				return fmt.Errorf("contact %s: inbox closed", m.addr)
			}
			if err := m.handleCommand(cmd); err != nil {
				return err
			}
		}
	}
}

// identify is the one-shot identification step: WEBIRC (if configured) then
// standard NICK/USER registration.
func (m *Manager) identify() error {
	if m.identified {
		return nil
	}
	if m.webircPassword != "" {
		vhost := pdu.SanitizeNick(m.addr) + ".sms-irc." + m.vhostSuffix
		if err := m.client.IdentifyWebIRC(m.webircPassword, "sms-irc", vhost, "127.0.0.1"); err != nil {
			return err
		}
	}
	if err := m.client.Identify(m.nick, m.nick, m.nick); err != nil {
		return err
	}
	m.identified = true
	return nil
}

func (m *Manager) handleIRCMessage(msg ircclient.Message) error {
	switch msg.Command {
	case "376", "422": // RPL_ENDOFMOTD, ERR_NOMOTD
		m.connected = true
		if err := m.processMessages(); err != nil {
			return err
		}
		m.initializeWatch()
		m.runUpdateAway()
		m.runProcessGroups()

	case "NICK":
		if msg.Nick() == m.nick && len(msg.Params) > 0 {
			m.nick = msg.Params[0]
		}

	case "PRIVMSG":
		m.handlePrivmsg(msg)

	case "600", "604": // WATCH: logged in / now online
		// Params are <our nick> <watched nick> <user> <host> <ts>; only the
		// admin is ever WATCHed, but check the nick anyway so this doesn't
		// silently misfire if another WATCH target is added later.
		if len(msg.Params) >= 2 && msg.Params[1] == m.admin && !m.adminOnline {
			m.adminOnline = true
			if err := m.processMessages(); err != nil {
				return err
			}
		}

	case "601", "605": // WATCH: logged off / now offline
		if len(msg.Params) >= 2 && msg.Params[1] == m.admin {
			m.adminOnline = false
		}

	case "421": // ERR_UNKNOWNCOMMAND
		if len(msg.Params) >= 2 && strings.EqualFold(msg.Params[len(msg.Params)-2], "WATCH") {
			m.reportError("Protocol", "server does not support WATCH; admin presence tracking disabled")
		}

	case "ERROR":
		return fmt.Errorf("contact %s: server error: %s", m.addr, msg.Trailing())
	}

	return nil
}

func (m *Manager) handlePrivmsg(msg ircclient.Message) {
	if len(msg.Params) < 2 {
		return
	}
	sender := msg.Nick()
	if sender != m.admin {
		_ = m.client.Send("NOTICE", sender, "Message not delivered; you aren't the SMS bridge administrator!")
		return
	}

	target := msg.Params[0]
	if target != m.nick {
		return
	}
	text := msg.Trailing()

	if m.waMode {
		m.toWA <- comm.WhatsappCommand{Kind: comm.WhatsappSendDirectMessage, Addr: m.addr, Text: text}
	} else {
		m.toModem <- comm.ModemCommand{Kind: comm.ModemSendMessage, Addr: m.addr, Text: text}
	}
}

func (m *Manager) initializeWatch() {
	_ = m.client.Send("WATCH", "+"+m.admin)
}
