// Package whatsapp is the WhatsApp-side collaborator: it owns a whatsmeow
// multi-device session, ingests inbound messages into the Store (deduped
// by message id), and sends outbound direct messages dispatched from a
// contact actor's ModemCommand/WhatsappCommand routing decision. It is an
// external collaborator to the contact actor in the same sense the spec
// treats the modem driver — the actor only ever sees it through the
// comm.WhatsappCommand channel and the messages it leaves in the Store.
package whatsapp

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/smsirc/smsirc/internal/comm"
	"github.com/smsirc/smsirc/internal/pdu"
	"github.com/smsirc/smsirc/internal/store"
)

// Notifier is called once an inbound message has been durably stored, so
// the supervisor can dispatch ProcessMessages to the right contact actor.
type Notifier func(addr string)

// Client bridges one WhatsApp account to the Store.
type Client struct {
	container *sqlstore.Container
	store     *store.Store
	notify    Notifier

	mu      sync.RWMutex
	wa      *whatsmeow.Client
	selfJID types.JID
}

// Open creates the whatsmeow device store at dbPath (a sqlite3 DSN managed
// entirely by whatsmeow, distinct from the bridge's own Store) and returns
// a Client ready to Run. Pairing must already have happened out-of-band
// (see cmd/smsirc-pair) — Run returns an error and relies on its caller's
// retry/backoff if no device is paired yet.
func Open(ctx context.Context, dbPath string, st *store.Store, notify Notifier) (*Client, error) {
	logger := waLog.Stdout("whatsapp", "ERROR", true)
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", dbPath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open device store: %w", err)
	}
	return &Client{container: container, store: st, notify: notify}, nil
}

// Run connects and blocks until ctx is cancelled. It returns an error early
// if no device is paired or the initial connect fails, and the caller calls
// Run again (typically with backoff) after such a failure. Once connected,
// a later loss of the connection does not make Run return.
func (c *Client) Run(ctx context.Context) error {
	device, err := c.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: get device: %w", err)
	}

	logger := waLog.Stdout("whatsapp", "ERROR", true)
	wa := whatsmeow.NewClient(device, logger)
	wa.AddEventHandler(c.handleEvent)

	if wa.Store.ID == nil {
		return fmt.Errorf("whatsapp: not paired; run smsirc-pair first")
	}

	if err := wa.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}

	c.mu.Lock()
	c.wa = wa
	c.selfJID = *wa.Store.ID
	c.mu.Unlock()

	if err := c.store.StoreWaPersistence([]byte(c.selfJID.String())); err != nil {
		log.Printf("[whatsapp] persist session marker: %v", err)
	}

	log.Printf("[whatsapp] connected as %s", c.selfJID.String())

	<-ctx.Done()

	c.mu.Lock()
	c.wa.Disconnect()
	c.wa = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.LoggedOut:
		log.Printf("[whatsapp] logged out — re-pair required")
	}
}

func (c *Client) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe {
		return
	}

	mid := msg.Info.ID
	stored, err := c.store.IsWaMsgidStored(mid)
	if err != nil {
		log.Printf("[whatsapp] dedup check %s: %v", mid, err)
		return
	}
	if stored {
		return
	}

	text := extractText(msg)
	if text == "" {
		return
	}

	addr := "+" + msg.Info.Sender.User
	if _, err := c.store.GetRecipientByAddr(addr); err != nil {
		if _, err := c.store.StoreWaRecipient(addr, pdu.SanitizeNick(addr), msg.Info.PushName); err != nil {
			log.Printf("[whatsapp] store recipient %s: %v", addr, err)
			return
		}
	}

	var groupTarget *int64
	if msg.Info.Chat.Server == types.GroupServer {
		jid := msg.Info.Chat.String()
		g, err := c.store.GetGroupByJID(jid)
		if err != nil {
			g, err = c.store.StoreGroup(jid, "#"+pdu.SanitizeNick(msg.Info.Chat.User), "")
			if err != nil {
				log.Printf("[whatsapp] store group %s: %v", jid, err)
				return
			}
		}
		groupTarget = &g.ID
	}

	if _, err := c.store.StoreWaMessage(addr, text, groupTarget, msg.Info.Timestamp); err != nil {
		log.Printf("[whatsapp] store message from %s: %v", addr, err)
		return
	}
	if err := c.store.StoreWaMsgid(mid); err != nil {
		log.Printf("[whatsapp] store msgid %s: %v", mid, err)
	}

	if c.notify != nil {
		c.notify(addr)
	}
}

// SendDirectMessage sends text to addr's personal JID.
func (c *Client) SendDirectMessage(ctx context.Context, addr, text string) error {
	c.mu.RLock()
	wa := c.wa
	c.mu.RUnlock()
	if wa == nil {
		return fmt.Errorf("whatsapp: not connected")
	}

	jid := types.NewJID(strings.TrimPrefix(addr, "+"), types.DefaultUserServer)
	_, err := wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("whatsapp: send to %s: %w", addr, err)
	}
	return nil
}

// ConsumeCommands drains WhatsappCommand values dispatched by contact
// actors and turns them into outbound sends, until ctx is cancelled.
func (c *Client) ConsumeCommands(ctx context.Context, in <-chan comm.WhatsappCommand) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-in:
			if !ok {
				return
			}
			switch cmd.Kind {
			case comm.WhatsappSendDirectMessage:
				if err := c.SendDirectMessage(ctx, cmd.Addr, cmd.Text); err != nil {
					log.Printf("[whatsapp] %v", err)
				}
			}
		}
	}
}

func extractText(msg *events.Message) string {
	if text := msg.Message.GetConversation(); text != "" {
		return strings.TrimSpace(text)
	}
	if ext := msg.Message.GetExtendedTextMessage(); ext != nil {
		if text := ext.GetText(); text != "" {
			return strings.TrimSpace(text)
		}
	}
	if img := msg.Message.GetImageMessage(); img != nil {
		return strings.TrimSpace(img.GetCaption())
	}
	if vid := msg.Message.GetVideoMessage(); vid != nil {
		return strings.TrimSpace(vid.GetCaption())
	}
	if doc := msg.Message.GetDocumentMessage(); doc != nil {
		return strings.TrimSpace(doc.GetCaption())
	}
	return ""
}
