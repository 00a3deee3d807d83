package contact

import (
	"fmt"
	"strings"

	"github.com/smsirc/smsirc/internal/comm"
	"github.com/smsirc/smsirc/internal/pdu"
	"github.com/smsirc/smsirc/internal/store"
)

func (m *Manager) handleCommand(cmd comm.ContactManagerCommand) error {
	switch cmd.Kind {
	case comm.ProcessMessages:
		return m.processMessages()
	case comm.ProcessGroups:
		m.runProcessGroups()
	case comm.UpdateAway:
		m.presence = cmd.AwayMessage
		m.runUpdateAway()
	case comm.ChangeNick:
		m.changeNick(cmd.NewNick, cmd.NickSrc)
	case comm.SetWhatsapp:
		m.waMode = cmd.Whatsapp
		if err := m.store.UpdateRecipientWa(m.addr, cmd.Whatsapp); err != nil {
			m.reportError("Storage", err.Error())
		}
	}
	return nil
}

// processMessages drains queued inbound messages to the administrator. It
// is a no-op unless the actor is both connected and has seen the
// administrator online via WATCH.
func (m *Manager) processMessages() error {
	if !m.connected || !m.adminOnline {
		return nil
	}

	msgs, err := m.store.GetMessagesForRecipient(m.addr)
	if err != nil {
		m.reportError("Storage", err.Error())
		return nil
	}

	delivered := make(map[int64]bool)
	for _, msg := range msgs {
		if delivered[msg.ID] {
			continue
		}

		if msg.Source == store.SourceSMS {
			if err := m.deliverSMS(msg, delivered); err != nil {
				return err
			}
		} else {
			if err := m.deliverWA(msg); err != nil {
				return err
			}
			delivered[msg.ID] = true
		}
	}
	return nil
}

// deliverSMS decodes one SMS fragment, flips transport mode to SMS if
// necessary, and either emits it immediately (single-part) or waits for the
// rest of its CSMS group before emitting and deleting the whole run.
func (m *Manager) deliverSMS(msg store.Message, delivered map[int64]bool) error {
	if m.waMode {
		m.waMode = false
		if err := m.store.UpdateRecipientWa(m.addr, false); err != nil {
			m.reportError("Storage", err.Error())
			return nil
		}
		m.SendIRCMessage(m.admin, "Notice: SMS mode automatically enabled.")
	}

	decoded, err := pdu.DecodeDeliverPDU(msg.PDU)
	if err != nil {
		m.reportError("Decode", fmt.Sprintf("could not decode pdu for message %d: %v", msg.ID, err))
		return nil
	}

	if decoded.CSMSReference == nil {
		m.SendIRCMessage(m.admin, decoded.Text)
		if err := m.store.DeleteMessage(msg.ID); err != nil {
			return fmt.Errorf("contact %s: delete message %d: %w", m.addr, msg.ID, err)
		}
		delivered[msg.ID] = true
		return nil
	}

	frags, err := m.store.GetAllConcatenated(m.addr, *decoded.CSMSReference)
	if err != nil {
		m.reportError("Storage", err.Error())
		return nil
	}
	if len(frags) < decoded.CSMSTotal {
		// Not all fragments have arrived yet; leave the rows in place.
		for _, f := range frags {
			delivered[f.ID] = true // already examined this round, not yet deliverable
		}
		return nil
	}

	texts := make([]string, decoded.CSMSTotal)
	for _, f := range frags {
		d, err := pdu.DecodeDeliverPDU(f.PDU)
		if err != nil {
			continue
		}
		if d.CSMSPart >= 1 && d.CSMSPart <= decoded.CSMSTotal {
			texts[d.CSMSPart-1] = d.Text
		}
	}
	m.SendIRCMessage(m.admin, strings.Join(texts, ""))

	for _, f := range frags {
		if err := m.store.DeleteMessage(f.ID); err != nil {
			return fmt.Errorf("contact %s: delete message %d: %w", m.addr, f.ID, err)
		}
		delivered[f.ID] = true
	}
	return nil
}

func (m *Manager) deliverWA(msg store.Message) error {
	if !m.waMode {
		m.waMode = true
		if err := m.store.UpdateRecipientWa(m.addr, true); err != nil {
			m.reportError("Storage", err.Error())
			return nil
		}
		m.SendIRCMessage(m.admin, "Notice: WhatsApp mode automatically enabled.")
	}

	m.SendIRCMessage(m.admin, msg.Text)
	if err := m.store.DeleteMessage(msg.ID); err != nil {
		return fmt.Errorf("contact %s: delete message %d: %w", m.addr, msg.ID, err)
	}
	return nil
}

func (m *Manager) runProcessGroups() {
	if !m.connected {
		return
	}

	groups, err := m.store.GetGroupsForRecipient(m.addr)
	if err != nil {
		m.reportError("Storage", err.Error())
		return
	}

	next := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		next[g.Channel] = struct{}{}
		if _, already := m.channels[g.Channel]; !already {
			_ = m.client.Send("JOIN", g.Channel)
		}
		m.syncChannelOps(g.ID, g.Channel)
	}

	for ch := range m.channels {
		if _, stillMember := next[ch]; !stillMember {
			_ = m.client.Send("PART", ch)
			for key := range m.opped {
				if strings.HasPrefix(key, ch+" ") {
					delete(m.opped, key)
				}
			}
		}
	}

	m.channels = next
}

// syncChannelOps mirrors WhatsApp group-admin status onto IRC channel
// operator status: every member whose membership row is flagged is_admin
// gets MODE +o, once. The opped set keeps reconciliation idempotent the
// same way the channel set does for JOIN/PART.
func (m *Manager) syncChannelOps(groupID int64, channel string) {
	admins, err := m.store.GetGroupAdmins(groupID)
	if err != nil {
		m.reportError("Storage", err.Error())
		return
	}
	for _, id := range admins {
		r, err := m.store.GetRecipientByID(id)
		if err != nil {
			m.reportError("Storage", err.Error())
			continue
		}
		key := channel + " " + r.Nick
		if _, done := m.opped[key]; done {
			continue
		}
		_ = m.client.Send("MODE", channel, "+o", r.Nick)
		m.opped[key] = struct{}{}
	}
}

func (m *Manager) runUpdateAway() {
	if !m.connected {
		return
	}
	if m.presence == "" {
		// Bare AWAY clears away state.
		_ = m.client.Send("AWAY")
		return
	}
	_ = m.client.Send("AWAY", m.presence)
}

func (m *Manager) changeNick(newNick string, src store.NickSource) {
	if err := m.store.UpdateRecipientNick(m.addr, newNick, src); err != nil {
		m.reportError("Storage", err.Error())
		return
	}
	// The in-memory nick is only updated when the server echoes the NICK
	// back with a prefix matching the currently held nick (see
	// handleIRCMessage's "NICK" case), so it never drifts from reality if
	// the server rejects the change.
	_ = m.client.Send("NICK", newNick)
}
