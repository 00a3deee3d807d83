// Package comm defines the typed command channels connecting the contact
// actor to its collaborators: the modem driver, the WhatsApp client, and
// the supervisor that spawns actors in the first place. Every command is a
// plain struct carried on a buffered channel. Sends into an actor's inbox
// go through the supervisor's non-blocking Dispatch, so a stalled contact
// actor cannot back up an upstream ingester.
package comm

import "github.com/smsirc/smsirc/internal/store"

// ContactManagerCommand is the sum type a contact actor's inbox accepts.
// Exactly one of the embedded fields is meaningful per value; Kind says
// which.
type ContactManagerCommand struct {
	Kind ContactManagerCommandKind

	// UpdateAway
	AwayMessage string

	// ChangeNick
	NewNick string
	NickSrc store.NickSource

	// SetWhatsapp
	Whatsapp bool
}

type ContactManagerCommandKind int

const (
	ProcessMessages ContactManagerCommandKind = iota
	ProcessGroups
	UpdateAway
	ChangeNick
	SetWhatsapp
)

func (k ContactManagerCommandKind) String() string {
	switch k {
	case ProcessMessages:
		return "ProcessMessages"
	case ProcessGroups:
		return "ProcessGroups"
	case UpdateAway:
		return "UpdateAway"
	case ChangeNick:
		return "ChangeNick"
	case SetWhatsapp:
		return "SetWhatsapp"
	default:
		return "unknown"
	}
}

// ModemCommand is sent from a contact actor out to the modem driver.
type ModemCommand struct {
	Kind ModemCommandKind
	Addr string
	Text string
}

type ModemCommandKind int

const (
	ModemSendMessage ModemCommandKind = iota
)

// WhatsappCommand is sent from a contact actor out to the WhatsApp client.
type WhatsappCommand struct {
	Kind WhatsappCommandKind
	Addr string
	Text string
}

type WhatsappCommandKind int

const (
	WhatsappSendDirectMessage WhatsappCommandKind = iota
)

// InitParameters is everything the supervisor hands a newly spawned contact
// actor: its identity and the shared collaborators it needs for the
// lifetime of the connection.
type InitParameters struct {
	Addr           string
	Admin          string
	WebIRCPassword string
	VhostSuffix    string

	IRCHost     string
	IRCPort     int
	IRCTLS      bool
	IRCPassword string

	Store    *store.Store
	Inbox    chan ContactManagerCommand
	ToModem  chan<- ModemCommand
	ToWA     chan<- WhatsappCommand
}

// NewInbox allocates a contact actor's command inbox. It is unbounded in
// practice — backed by a buffered channel large enough that ordinary
// traffic never blocks a producer — rather than truly infinite, since Go
// channels require a fixed capacity; a stalled actor shows up as growing
// buffer occupancy, not as a blocked upstream ingester.
func NewInbox() chan ContactManagerCommand {
	return make(chan ContactManagerCommand, 256)
}
