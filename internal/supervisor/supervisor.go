// Package supervisor is the top-level wiring of the bridge: it owns the
// Store, runs the modem and WhatsApp collaborators, and spawns one contact
// actor per correspondent, respawning actors that die of fatal errors.
// Inbound events from either upstream land in the Store first; only then is
// a ProcessMessages command dispatched to the owning actor's inbox, so a
// slow or dead actor never loses traffic.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/smsirc/smsirc/internal/comm"
	"github.com/smsirc/smsirc/internal/config"
	"github.com/smsirc/smsirc/internal/contact"
	"github.com/smsirc/smsirc/internal/modem"
	"github.com/smsirc/smsirc/internal/pdu"
	"github.com/smsirc/smsirc/internal/store"
	"github.com/smsirc/smsirc/internal/whatsapp"
)

const (
	respawnBackoffMin = time.Second
	respawnBackoffMax = time.Minute
)

type Supervisor struct {
	cfg config.Config
	st  *store.Store

	toModem chan comm.ModemCommand
	toWA    chan comm.WhatsappCommand

	mu     sync.Mutex
	actors map[string]chan comm.ContactManagerCommand // keyed by normalized addr
	wg     sync.WaitGroup

	mdm     *modem.Modem
	rootCtx context.Context
}

func New(cfg config.Config, st *store.Store) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		st:      st,
		toModem: make(chan comm.ModemCommand, 64),
		toWA:    make(chan comm.WhatsappCommand, 64),
		actors:  make(map[string]chan comm.ContactManagerCommand),
	}
}

// Run starts the collaborators and one actor per known recipient, then
// blocks until ctx is cancelled. The modem driver is injected so the serial
// layer stays out of scope; pass modem.NewLogDriver() to run SMS-side
// outbound as log-only.
func (s *Supervisor) Run(ctx context.Context, driver modem.Driver) error {
	s.rootCtx = ctx

	s.mdm = modem.New(s.st, driver, s.NotifyInbound)
	go s.mdm.ConsumeCommands(ctx, s.toModem)

	wa, err := whatsapp.Open(ctx, s.cfg.Whatsapp.DBPath, s.st, s.NotifyInbound)
	if err != nil {
		log.Printf("[supervisor] whatsapp unavailable: %v", err)
	} else {
		go wa.ConsumeCommands(ctx, s.toWA)
		go s.runWhatsapp(ctx, wa)
	}

	recipients, err := s.st.GetAllRecipients()
	if err != nil {
		return fmt.Errorf("supervisor: list recipients: %w", err)
	}
	for _, r := range recipients {
		s.ensureActor(r.Phone)
	}

	log.Printf("[supervisor] ready (%d contact(s))", len(recipients))

	<-ctx.Done()
	s.wg.Wait()
	return nil
}

// runWhatsapp keeps the WhatsApp session alive, retrying with backoff
// whenever Run returns early (a failed connect, an unpaired device).
func (s *Supervisor) runWhatsapp(ctx context.Context, wa *whatsapp.Client) {
	backoff := respawnBackoffMin
	for {
		err := wa.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[whatsapp] %v; reconnecting in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > respawnBackoffMax {
			backoff = respawnBackoffMax
		}
	}
}

// IngestPDU is the entry point the serial modem layer calls for each raw
// inbound PDU. Only valid once Run has started.
func (s *Supervisor) IngestPDU(raw []byte) error {
	if s.mdm == nil {
		return fmt.Errorf("supervisor: not running")
	}
	return s.mdm.IngestPDU(raw)
}

// NotifyInbound is handed to both upstream ingesters: once a message is
// durably stored for addr, it makes sure addr has a live actor and tells it
// to drain its queue.
func (s *Supervisor) NotifyInbound(addr string) {
	s.Dispatch(addr, comm.ContactManagerCommand{Kind: comm.ProcessMessages})
}

// Dispatch delivers a command to addr's actor, spawning the actor first if
// none is running. The send is non-blocking: inboxes are generously
// buffered, and a full inbox means the actor is badly stalled, in which
// case dropping a poke is safe — every command here is re-derivable from
// Store state on the next event.
func (s *Supervisor) Dispatch(addr string, cmd comm.ContactManagerCommand) {
	inbox := s.ensureActor(addr)
	if inbox == nil {
		return
	}
	select {
	case inbox <- cmd:
	default:
		log.Printf("[supervisor] inbox full for %s; dropped %s", addr, cmd.Kind)
	}
}

// DispatchGroups tells every actor that is a member of the given group to
// re-run group reconciliation. Used after a membership sync so channel
// JOIN/PART state converges on all affected contacts.
func (s *Supervisor) DispatchGroups(groupID int64) {
	members, err := s.st.GetGroupMembers(groupID)
	if err != nil {
		log.Printf("[supervisor] members of group %d: %v", groupID, err)
		return
	}
	for _, id := range members {
		r, err := s.st.GetRecipientByID(id)
		if err != nil {
			log.Printf("[supervisor] recipient %d: %v", id, err)
			continue
		}
		s.Dispatch(r.Phone, comm.ContactManagerCommand{Kind: comm.ProcessGroups})
	}
}

// DeleteRecipient tears down addr's actor and removes the recipient row.
// Administrator-initiated: recipients are never deleted automatically.
func (s *Supervisor) DeleteRecipient(addr string) error {
	addr = pdu.NormalizeAddress(addr)

	s.mu.Lock()
	inbox, ok := s.actors[addr]
	if ok {
		delete(s.actors, addr)
	}
	s.mu.Unlock()
	if ok {
		close(inbox) // the actor treats a closed inbox as fatal and exits
	}

	return s.st.DeleteRecipient(addr)
}

func (s *Supervisor) ensureActor(addr string) chan comm.ContactManagerCommand {
	addr = pdu.NormalizeAddress(addr)
	if addr == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if inbox, ok := s.actors[addr]; ok {
		return inbox
	}

	inbox := comm.NewInbox()
	s.actors[addr] = inbox
	s.wg.Add(1)
	go s.runActor(addr, inbox)
	return inbox
}

// runActor keeps one contact actor alive: a fatal error (stream ended,
// server ERROR, delete-after-deliver failure) kills only this actor, which
// is then respawned with backoff. A closed inbox means the recipient was
// deleted; the actor is not respawned.
func (s *Supervisor) runActor(addr string, inbox chan comm.ContactManagerCommand) {
	defer s.wg.Done()

	backoff := respawnBackoffMin
	for {
		if s.rootCtx.Err() != nil {
			return
		}

		mgr, err := contact.New(comm.InitParameters{
			Addr:           addr,
			Admin:          s.cfg.Admin,
			WebIRCPassword: s.cfg.IRC.WebIRCPassword,
			VhostSuffix:    s.cfg.IRC.VhostSuffix,
			IRCHost:        s.cfg.IRC.Hostname,
			IRCPort:        s.cfg.IRC.Port,
			IRCTLS:         s.cfg.IRC.TLS,
			IRCPassword:    s.cfg.IRC.Password,
			Store:          s.st,
			Inbox:          inbox,
			ToModem:        s.toModem,
			ToWA:           s.toWA,
		})
		if err == nil {
			start := time.Now()
			err = mgr.Run(s.rootCtx)
			if time.Since(start) > respawnBackoffMax {
				backoff = respawnBackoffMin
			}
		}

		if s.rootCtx.Err() != nil {
			return
		}

		s.mu.Lock()
		_, stillWanted := s.actors[addr]
		s.mu.Unlock()
		if !stillWanted {
			return
		}

		if err != nil {
			log.Printf("[contact:%s] %v; respawning in %s", addr, err, backoff)
		}
		select {
		case <-s.rootCtx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > respawnBackoffMax {
			backoff = respawnBackoffMax
		}
	}
}
