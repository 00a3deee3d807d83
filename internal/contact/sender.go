package contact

import (
	"fmt"

	"github.com/smsirc/smsirc/internal/store"
)

// Sender is the contract PDU/message formatting code shares across the
// contact actor and any future group-chat actor: it needs a way to report
// errors, reach the Store, name the administrator as a DM target, and emit
// an IRC message, without caring which kind of actor it's talking to.
type Sender interface {
	ReportError(kind, msg string)
	Store() *store.Store
	PrivateTarget() string
	SendIRCMessage(to, text string)
}

// ReportError sends a NOTICE to the administrator describing a non-fatal
// per-message failure (decode error, storage error on a single row). It
// never terminates the actor — only stream termination, server ERROR, and
// delete-after-deliver failures do that.
func (m *Manager) ReportError(kind, msg string) {
	m.reportError(kind, msg)
}

func (m *Manager) reportError(kind, msg string) {
	_ = m.client.Send("NOTICE", m.admin, fmt.Sprintf("[%s] %s", kind, msg))
}

// Store hands out the actor's Store handle.
func (m *Manager) Store() *store.Store {
	return m.store
}

// PrivateTarget is the administrator's nick — the default DM target for
// inbound text that isn't attributed to a group.
func (m *Manager) PrivateTarget() string {
	return m.admin
}

// SendIRCMessage wraps PRIVMSG, addressed from this contact's own identity
// since the Manager's IRC connection is already logged in as that virtual
// user.
func (m *Manager) SendIRCMessage(to, text string) {
	_ = m.client.Send("PRIVMSG", to, text)
}
