// Package store is a connection-pooled persistence layer for recipients,
// messages, groups, group memberships, and the WhatsApp session blob. It
// applies its schema via embedded migrations at Open and exposes typed CRUD
// methods; every method returns in a single logical database operation.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smsirc/smsirc/internal/pdu"
)

// Store wraps a *sql.DB, which is itself a connection pool safe for
// concurrent use. A Store value is cheap to copy — it carries only the
// pool handle — so every contact actor can hold its own Store without any
// lock contention between them; all cross-actor consistency comes from SQL
// constraints and transactions, not Go-level locking.
type Store struct {
	db *sql.DB
}

// Open applies pending migrations and returns a ready Store. path is a
// sqlite3 DSN (a filesystem path, or "file::memory:?cache=shared" for
// tests).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers; one conn avoids SQLITE_BUSY under load

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Recipients ---------------------------------------------------------

// GetOrCreateRecipient returns the recipient for addr, normalizing it first,
// creating a row with an auto-generated nick if none exists yet.
func (s *Store) GetOrCreateRecipient(addr string) (Recipient, error) {
	addr = pdu.NormalizeAddress(addr)

	r, err := s.GetRecipientByAddr(addr)
	if err == nil {
		return r, nil
	}
	if err != sql.ErrNoRows {
		return Recipient{}, err
	}

	nick := pdu.SanitizeNick(addr)
	return s.StoreRecipient(addr, nick)
}

// StoreRecipient inserts a new recipient row with the auto nick source.
func (s *Store) StoreRecipient(addr, nick string) (Recipient, error) {
	addr = pdu.NormalizeAddress(addr)
	res, err := s.db.Exec(
		`INSERT INTO recipients (phone, nick, whatsapp, nicksrc) VALUES (?, ?, 0, ?)`,
		addr, nick, NickSourceAuto,
	)
	if err != nil {
		return Recipient{}, fmt.Errorf("store: insert recipient %s: %w", addr, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Recipient{}, fmt.Errorf("store: recipient id: %w", err)
	}
	return s.GetRecipientByID(id)
}

// StoreWaRecipient inserts a new recipient that is already known to be a
// WhatsApp correspondent, recording its notify display name.
func (s *Store) StoreWaRecipient(addr, nick, notify string) (Recipient, error) {
	addr = pdu.NormalizeAddress(addr)
	res, err := s.db.Exec(
		`INSERT INTO recipients (phone, nick, whatsapp, notify, nicksrc) VALUES (?, ?, 1, ?, ?)`,
		addr, nick, notify, NickSourceAuto,
	)
	if err != nil {
		return Recipient{}, fmt.Errorf("store: insert wa recipient %s: %w", addr, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Recipient{}, fmt.Errorf("store: recipient id: %w", err)
	}
	return s.GetRecipientByID(id)
}

func scanRecipient(row interface {
	Scan(dest ...any) error
}) (Recipient, error) {
	var r Recipient
	var avatar, notify sql.NullString
	var whatsapp int
	if err := row.Scan(&r.ID, &r.Phone, &r.Nick, &whatsapp, &avatar, &notify, &r.NickSrc); err != nil {
		return Recipient{}, err
	}
	r.Whatsapp = whatsapp != 0
	r.AvatarURL = avatar.String
	r.Notify = notify.String
	return r, nil
}

// GetRecipientByID looks up a recipient by primary key.
func (s *Store) GetRecipientByID(id int64) (Recipient, error) {
	row := s.db.QueryRow(
		`SELECT id, phone, nick, whatsapp, avatar, notify, nicksrc FROM recipients WHERE id = ?`, id)
	r, err := scanRecipient(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Recipient{}, fmt.Errorf("store: recipient id %d: %w", id, err)
		}
		return Recipient{}, fmt.Errorf("store: recipient id %d: %w", id, err)
	}
	return r, nil
}

// GetRecipientByAddr looks up a recipient by normalized phone address.
// Returns sql.ErrNoRows (unwrapped) when absent, so callers such as
// GetOrCreateRecipient can branch on it directly.
func (s *Store) GetRecipientByAddr(addr string) (Recipient, error) {
	addr = pdu.NormalizeAddress(addr)
	row := s.db.QueryRow(
		`SELECT id, phone, nick, whatsapp, avatar, notify, nicksrc FROM recipients WHERE phone = ?`, addr)
	r, err := scanRecipient(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Recipient{}, sql.ErrNoRows
		}
		return Recipient{}, fmt.Errorf("store: recipient addr %s: %w", addr, err)
	}
	return r, nil
}

// GetRecipientByNick looks up a recipient by its current IRC nick.
func (s *Store) GetRecipientByNick(nick string) (Recipient, error) {
	row := s.db.QueryRow(
		`SELECT id, phone, nick, whatsapp, avatar, notify, nicksrc FROM recipients WHERE nick = ?`, nick)
	r, err := scanRecipient(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Recipient{}, sql.ErrNoRows
		}
		return Recipient{}, fmt.Errorf("store: recipient nick %s: %w", nick, err)
	}
	return r, nil
}

// GetAllRecipients returns every recipient row, ordered by id.
func (s *Store) GetAllRecipients() ([]Recipient, error) {
	rows, err := s.db.Query(
		`SELECT id, phone, nick, whatsapp, avatar, notify, nicksrc FROM recipients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list recipients: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRecipientNotify sets the notify display name on an existing
// recipient.
func (s *Store) UpdateRecipientNotify(addr, notify string) error {
	addr = pdu.NormalizeAddress(addr)
	res, err := s.db.Exec(`UPDATE recipients SET notify = ? WHERE phone = ?`, notify, addr)
	if err != nil {
		return fmt.Errorf("store: update notify %s: %w", addr, err)
	}
	return requireOneRowAffected(res, "update notify", addr)
}

// UpdateRecipientNick renames a recipient and records the nick's
// provenance.
func (s *Store) UpdateRecipientNick(addr, nick string, src NickSource) error {
	addr = pdu.NormalizeAddress(addr)
	res, err := s.db.Exec(
		`UPDATE recipients SET nick = ?, nicksrc = ? WHERE phone = ?`, nick, src, addr)
	if err != nil {
		return fmt.Errorf("store: update nick %s: %w", addr, err)
	}
	return requireOneRowAffected(res, "update nick", addr)
}

// UpdateRecipientWa sets the default outbound transport mode.
func (s *Store) UpdateRecipientWa(addr string, whatsapp bool) error {
	addr = pdu.NormalizeAddress(addr)
	res, err := s.db.Exec(`UPDATE recipients SET whatsapp = ? WHERE phone = ?`, whatsapp, addr)
	if err != nil {
		return fmt.Errorf("store: update whatsapp flag %s: %w", addr, err)
	}
	return requireOneRowAffected(res, "update whatsapp flag", addr)
}

// DeleteRecipient removes a recipient by normalized address. Fails if no
// row matched, per the delete-semantics contract every delete method
// shares.
func (s *Store) DeleteRecipient(addr string) error {
	addr = pdu.NormalizeAddress(addr)
	res, err := s.db.Exec(`DELETE FROM recipients WHERE phone = ?`, addr)
	if err != nil {
		return fmt.Errorf("store: delete recipient %s: %w", addr, err)
	}
	return requireOneRowAffected(res, "delete recipient", addr)
}

// --- Messages ------------------------------------------------------------

// StoreSMSMessage queues an inbound SMS fragment.
func (s *Store) StoreSMSMessage(addr string, pduBytes []byte, csmsData *int32) (Message, error) {
	addr = pdu.NormalizeAddress(addr)
	ts := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO messages (phone, pdu, csms_data, source, ts) VALUES (?, ?, ?, ?, ?)`,
		addr, pduBytes, nullableInt32(csmsData), SourceSMS, ts,
	)
	if err != nil {
		return Message{}, fmt.Errorf("store: insert sms message %s: %w", addr, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("store: sms message id: %w", err)
	}
	return Message{ID: id, Phone: addr, PDU: pduBytes, CSMSData: csmsData, Source: SourceSMS, TS: ts}, nil
}

// StoreWaMessage queues an inbound WhatsApp text message, optionally
// attributed to a group.
func (s *Store) StoreWaMessage(addr, text string, groupTarget *int64, ts time.Time) (Message, error) {
	addr = pdu.NormalizeAddress(addr)
	res, err := s.db.Exec(
		`INSERT INTO messages (phone, text, group_target, source, ts) VALUES (?, ?, ?, ?, ?)`,
		addr, text, nullableInt64(groupTarget), SourceWA, ts,
	)
	if err != nil {
		return Message{}, fmt.Errorf("store: insert wa message %s: %w", addr, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("store: wa message id: %w", err)
	}
	return Message{ID: id, Phone: addr, Text: text, GroupTarget: groupTarget, Source: SourceWA, TS: ts}, nil
}

func scanMessage(row interface {
	Scan(dest ...any) error
}) (Message, error) {
	var m Message
	var pduBytes []byte
	var csmsData sql.NullInt64
	var groupTarget sql.NullInt64
	var text sql.NullString
	if err := row.Scan(&m.ID, &m.Phone, &pduBytes, &csmsData, &groupTarget, &text, &m.Source, &m.TS); err != nil {
		return Message{}, err
	}
	m.PDU = pduBytes
	if csmsData.Valid {
		v := int32(csmsData.Int64)
		m.CSMSData = &v
	}
	if groupTarget.Valid {
		v := groupTarget.Int64
		m.GroupTarget = &v
	}
	m.Text = text.String
	return m, nil
}

// GetMessagesForRecipient returns every undelivered message for addr,
// ordered (ts, id) ascending as required for in-order delivery.
func (s *Store) GetMessagesForRecipient(addr string) ([]Message, error) {
	addr = pdu.NormalizeAddress(addr)
	rows, err := s.db.Query(
		`SELECT id, phone, pdu, csms_data, group_target, text, source, ts
		 FROM messages WHERE phone = ? ORDER BY ts ASC, id ASC`, addr)
	if err != nil {
		return nil, fmt.Errorf("store: list messages %s: %w", addr, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetAllConcatenated returns every fragment sharing csmsRef for addr, in
// arrival order, for PDU reassembly.
func (s *Store) GetAllConcatenated(addr string, csmsRef int32) ([]Message, error) {
	addr = pdu.NormalizeAddress(addr)
	rows, err := s.db.Query(
		`SELECT id, phone, pdu, csms_data, group_target, text, source, ts
		 FROM messages WHERE phone = ? AND csms_data = ? ORDER BY ts ASC, id ASC`, addr, csmsRef)
	if err != nil {
		return nil, fmt.Errorf("store: list concatenated %s/%d: %w", addr, csmsRef, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetAllMessages returns every row in the messages table, for diagnostics
// and tests.
func (s *Store) GetAllMessages() ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, phone, pdu, csms_data, group_target, text, source, ts FROM messages ORDER BY ts ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list all messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMessage removes one message row. Must affect exactly one row —
// callers rely on the error to detect stale state (a message already
// delivered by a concurrent actor, or an id that never existed).
func (s *Store) DeleteMessage(id int64) error {
	res, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete message %d: %w", id, err)
	}
	return requireOneRowAffected(res, "delete message", fmt.Sprintf("%d", id))
}

// --- Groups ----------------------------------------------------------------

// StoreGroup inserts a new WhatsApp group / IRC channel mapping.
func (s *Store) StoreGroup(jid, channel, topic string) (Group, error) {
	res, err := s.db.Exec(`INSERT INTO groups (jid, channel, topic) VALUES (?, ?, ?)`, jid, channel, topic)
	if err != nil {
		return Group{}, fmt.Errorf("store: insert group %s: %w", jid, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Group{}, fmt.Errorf("store: group id: %w", err)
	}
	return Group{ID: id, JID: jid, Channel: channel, Topic: topic}, nil
}

func scanGroup(row interface {
	Scan(dest ...any) error
}) (Group, error) {
	var g Group
	if err := row.Scan(&g.ID, &g.JID, &g.Channel, &g.Topic); err != nil {
		return Group{}, err
	}
	return g, nil
}

// GetGroupByID looks up a group by primary key.
func (s *Store) GetGroupByID(id int64) (Group, error) {
	row := s.db.QueryRow(`SELECT id, jid, channel, topic FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err != nil {
		return Group{}, fmt.Errorf("store: group id %d: %w", id, err)
	}
	return g, nil
}

// GetGroupByJID looks up a group by its WhatsApp JID. Returns sql.ErrNoRows
// unwrapped when absent.
func (s *Store) GetGroupByJID(jid string) (Group, error) {
	row := s.db.QueryRow(`SELECT id, jid, channel, topic FROM groups WHERE jid = ?`, jid)
	g, err := scanGroup(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Group{}, sql.ErrNoRows
		}
		return Group{}, fmt.Errorf("store: group jid %s: %w", jid, err)
	}
	return g, nil
}

// GetGroupByChannel looks up a group by its IRC channel name. Returns
// sql.ErrNoRows unwrapped when absent.
func (s *Store) GetGroupByChannel(channel string) (Group, error) {
	row := s.db.QueryRow(`SELECT id, jid, channel, topic FROM groups WHERE channel = ?`, channel)
	g, err := scanGroup(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Group{}, sql.ErrNoRows
		}
		return Group{}, fmt.Errorf("store: group channel %s: %w", channel, err)
	}
	return g, nil
}

// GetAllGroups returns every group row.
func (s *Store) GetAllGroups() ([]Group, error) {
	rows, err := s.db.Query(`SELECT id, jid, channel, topic FROM groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGroupTopic sets a group's topic string.
func (s *Store) UpdateGroupTopic(id int64, topic string) error {
	res, err := s.db.Exec(`UPDATE groups SET topic = ? WHERE id = ?`, topic, id)
	if err != nil {
		return fmt.Errorf("store: update topic %d: %w", id, err)
	}
	return requireOneRowAffected(res, "update topic", fmt.Sprintf("%d", id))
}

// DeleteGroup removes a group by id. Must affect exactly one row.
func (s *Store) DeleteGroup(id int64) error {
	res, err := s.db.Exec(`DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete group %d: %w", id, err)
	}
	return requireOneRowAffected(res, "delete group", fmt.Sprintf("%d", id))
}

// GetGroupsForRecipient returns every group addr belongs to, joining
// memberships against the recipient's normalized phone number.
func (s *Store) GetGroupsForRecipient(addr string) ([]Group, error) {
	addr = pdu.NormalizeAddress(addr)
	rows, err := s.db.Query(`
		SELECT g.id, g.jid, g.channel, g.topic
		FROM groups g
		JOIN group_memberships gm ON gm.group_id = g.id
		JOIN recipients r ON r.id = gm.user_id
		WHERE r.phone = ?
		ORDER BY g.id`, addr)
	if err != nil {
		return nil, fmt.Errorf("store: groups for recipient %s: %w", addr, err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetGroupMembers returns every member id of a group.
func (s *Store) GetGroupMembers(groupID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT user_id FROM group_memberships WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetGroupAdmins returns the subset of a group's members flagged as
// WhatsApp group admins.
func (s *Store) GetGroupAdmins(groupID int64) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT user_id FROM group_memberships WHERE group_id = ? AND is_admin = 1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: admins of group %d: %w", groupID, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan admin: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpdateGroupMembers atomically replaces a group's membership roster: every
// existing row is deleted, then one row per member in members is inserted
// with is_admin set for members also present in admins. The whole
// operation runs in a single transaction, so a failure midway leaves the
// pre-call roster untouched rather than a partial mix.
func (s *Store) UpdateGroupMembers(groupID int64, members []int64, admins []int64) error {
	adminSet := make(map[int64]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin update_group_members %d: %w", groupID, err)
	}

	if _, err := tx.Exec(`DELETE FROM group_memberships WHERE group_id = ?`, groupID); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: clear memberships %d: %w", groupID, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO group_memberships (group_id, user_id, is_admin) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare membership insert %d: %w", groupID, err)
	}
	defer stmt.Close()

	for _, m := range members {
		if _, err := stmt.Exec(groupID, m, adminSet[m]); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert membership %d/%d: %w", groupID, m, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit update_group_members %d: %w", groupID, err)
	}
	return nil
}

// --- WhatsApp session persistence ------------------------------------------

// GetWaPersistence returns the singleton session blob, if one has been
// stored. Returns sql.ErrNoRows unwrapped when absent.
func (s *Store) GetWaPersistence() (PersistenceData, error) {
	row := s.db.QueryRow(`SELECT rev, data FROM persistence_data WHERE rev = 0`)
	var p PersistenceData
	if err := row.Scan(&p.Rev, &p.Data); err != nil {
		if err == sql.ErrNoRows {
			return PersistenceData{}, sql.ErrNoRows
		}
		return PersistenceData{}, fmt.Errorf("store: get wa persistence: %w", err)
	}
	return p, nil
}

// StoreWaPersistence upserts the singleton session blob at rev=0.
func (s *Store) StoreWaPersistence(data []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO persistence_data (rev, data) VALUES (0, ?)
		 ON CONFLICT(rev) DO UPDATE SET data = excluded.data`, data)
	if err != nil {
		return fmt.Errorf("store: store wa persistence: %w", err)
	}
	return nil
}

// --- WhatsApp message-id dedup set ------------------------------------------

// IsWaMsgidStored reports whether mid has already been recorded.
func (s *Store) IsWaMsgidStored(mid string) (bool, error) {
	var found int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM wa_message_ids WHERE mid = ?`, mid)
	if err := row.Scan(&found); err != nil {
		return false, fmt.Errorf("store: check wa msgid %s: %w", mid, err)
	}
	return found > 0, nil
}

// StoreWaMsgid idempotently records mid in the dedup set.
func (s *Store) StoreWaMsgid(mid string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO wa_message_ids (mid) VALUES (?)`, mid)
	if err != nil {
		return fmt.Errorf("store: store wa msgid %s: %w", mid, err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------

func requireOneRowAffected(res sql.Result, op, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s %s: %w", op, key, err)
	}
	if n != 1 {
		return fmt.Errorf("store: %s %s: affected %d rows, want 1", op, key, n)
	}
	return nil
}

func nullableInt32(v *int32) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
