// Package modem is the GSM modem collaborator: it ingests raw PDU
// notifications from a serial-attached modem driver into the Store, and
// drains outbound ModemCommand values dispatched by contact actors. The
// serial/AT-command layer itself lives outside this module; this package
// only has to make sense of the PDUs that driver hands it and to submit
// outbound text for it to transmit.
package modem

import (
	"context"
	"fmt"
	"log"

	"github.com/smsirc/smsirc/internal/comm"
	"github.com/smsirc/smsirc/internal/pdu"
	"github.com/smsirc/smsirc/internal/store"
)

// Notifier is called once an inbound message has been durably stored.
type Notifier func(addr string)

// Driver is the narrow interface the serial modem layer must satisfy:
// submit a plain-text message for a given address, returning once the
// driver has accepted it for transmission (not once it is delivered —
// the spec explicitly excludes delivery acknowledgements beyond what the
// upstream natively supplies).
type Driver interface {
	SendText(ctx context.Context, addr, text string) error
}

// LogDriver is the stand-in Driver used when no serial modem layer is
// wired up: it logs what would have been transmitted and reports success.
type LogDriver struct{}

func NewLogDriver() *LogDriver { return &LogDriver{} }

func (d *LogDriver) SendText(ctx context.Context, addr, text string) error {
	log.Printf("[modem] would transmit to %s: %q", addr, text)
	return nil
}

// Modem owns the Store-facing side of the modem collaborator: decoding
// inbound PDU notifications and routing outbound text through a Driver.
type Modem struct {
	store  *store.Store
	driver Driver
	notify Notifier
}

// New constructs a Modem bound to driver (the serial/AT-command layer) and
// st (for persisting inbound PDUs and looking up/creating recipients).
func New(st *store.Store, driver Driver, notify Notifier) *Modem {
	return &Modem{store: st, driver: driver, notify: notify}
}

// IngestPDU is called by the driver for every raw PDU it receives from the
// modem. It decodes the PDU to recover the originating address and CSMS
// reference, stores the raw PDU (full decode and CSMS reassembly is the contact
// actor's job at delivery time, since reassembly may need to wait on
// fragments that haven't arrived yet), and notifies the owning contact.
func (m *Modem) IngestPDU(raw []byte) error {
	decoded, err := pdu.DecodeDeliverPDU(raw)
	if err != nil {
		return fmt.Errorf("modem: decode pdu: %w", err)
	}

	var csmsData *int32
	if decoded.CSMSReference != nil {
		csmsData = decoded.CSMSReference
	}

	if _, err := m.store.GetOrCreateRecipient(decoded.Originator); err != nil {
		return fmt.Errorf("modem: recipient for %s: %w", decoded.Originator, err)
	}

	if _, err := m.store.StoreSMSMessage(decoded.Originator, raw, csmsData); err != nil {
		return fmt.Errorf("modem: store message from %s: %w", decoded.Originator, err)
	}

	if m.notify != nil {
		m.notify(decoded.Originator)
	}
	return nil
}

// ConsumeCommands drains ModemCommand values dispatched by contact actors
// and submits them to the driver, until ctx is cancelled.
func (m *Modem) ConsumeCommands(ctx context.Context, in <-chan comm.ModemCommand) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-in:
			if !ok {
				return
			}
			switch cmd.Kind {
			case comm.ModemSendMessage:
				if err := m.driver.SendText(ctx, cmd.Addr, cmd.Text); err != nil {
					log.Printf("[modem] send to %s: %v", cmd.Addr, err)
				}
			}
		}
	}
}
