package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRecipient_NormalizesAddress(t *testing.T) {
	s := openTestStore(t)

	r, err := s.StoreRecipient("+1 (555) 123-4567", "alice")
	if err != nil {
		t.Fatalf("store recipient: %v", err)
	}
	if r.Phone != "+15551234567" {
		t.Fatalf("expected normalized phone, got %q", r.Phone)
	}

	got, err := s.GetRecipientByAddr("15551234567")
	if err != nil {
		t.Fatalf("get recipient by unnormalized addr: %v", err)
	}
	if got.ID != r.ID {
		t.Fatalf("expected same recipient id, got %d want %d", got.ID, r.ID)
	}
}

func TestGetRecipientByAddr_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetRecipientByAddr("+15550000000")
	if err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestDeleteRecipient_RequiresExactlyOneRow(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreRecipient("+15551234567", "alice"); err != nil {
		t.Fatalf("store recipient: %v", err)
	}

	if err := s.DeleteRecipient("+15551234567"); err != nil {
		t.Fatalf("delete recipient: %v", err)
	}

	if err := s.DeleteRecipient("+15551234567"); err == nil {
		t.Fatalf("expected error deleting already-deleted recipient")
	}
}

func TestMessages_OrderedByTimestampThenID(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := s.StoreWaMessage("+15551234567", "msg", nil, base)
		if err != nil {
			t.Fatalf("store wa message %d: %v", i, err)
		}
	}

	msgs, err := s.GetMessagesForRecipient("+15551234567")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].ID <= msgs[i-1].ID {
			t.Fatalf("expected ascending ids, got %d then %d", msgs[i-1].ID, msgs[i].ID)
		}
	}
}

func TestMessages_SMSInvariant(t *testing.T) {
	s := openTestStore(t)

	csms := int32(7)
	m, err := s.StoreSMSMessage("+15551234567", []byte{0x01, 0x02}, &csms)
	if err != nil {
		t.Fatalf("store sms message: %v", err)
	}
	if m.Source != SourceSMS {
		t.Fatalf("expected SourceSMS, got %v", m.Source)
	}
	if len(m.PDU) == 0 {
		t.Fatalf("expected non-empty pdu on sms message")
	}
}

func TestGetAllConcatenated_FiltersByReference(t *testing.T) {
	s := openTestStore(t)

	ref1 := int32(1)
	ref2 := int32(2)
	if _, err := s.StoreSMSMessage("+15551234567", []byte{0x01}, &ref1); err != nil {
		t.Fatalf("store fragment: %v", err)
	}
	if _, err := s.StoreSMSMessage("+15551234567", []byte{0x02}, &ref1); err != nil {
		t.Fatalf("store fragment: %v", err)
	}
	if _, err := s.StoreSMSMessage("+15551234567", []byte{0x03}, &ref2); err != nil {
		t.Fatalf("store unrelated fragment: %v", err)
	}

	frags, err := s.GetAllConcatenated("+15551234567", 1)
	if err != nil {
		t.Fatalf("get concatenated: %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("expected 2 fragments for ref 1, got %d", len(frags))
	}
}

func TestDeleteMessage_RequiresExactlyOneRow(t *testing.T) {
	s := openTestStore(t)

	m, err := s.StoreWaMessage("+15551234567", "hi", nil, time.Now().UTC())
	if err != nil {
		t.Fatalf("store message: %v", err)
	}

	if err := s.DeleteMessage(m.ID); err != nil {
		t.Fatalf("delete message: %v", err)
	}
	if err := s.DeleteMessage(m.ID); err == nil {
		t.Fatalf("expected error deleting already-deleted message")
	}
}

func TestUpdateGroupMembers_AtomicReplace(t *testing.T) {
	s := openTestStore(t)

	g, err := s.StoreGroup("1234@g.us", "#group", "")
	if err != nil {
		t.Fatalf("store group: %v", err)
	}
	alice, err := s.StoreRecipient("+15550000001", "alice")
	if err != nil {
		t.Fatalf("store alice: %v", err)
	}
	bob, err := s.StoreRecipient("+15550000002", "bob")
	if err != nil {
		t.Fatalf("store bob: %v", err)
	}

	if err := s.UpdateGroupMembers(g.ID, []int64{alice.ID, bob.ID}, []int64{alice.ID}); err != nil {
		t.Fatalf("update group members: %v", err)
	}

	members, err := s.GetGroupMembers(g.ID)
	if err != nil {
		t.Fatalf("get members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	admins, err := s.GetGroupAdmins(g.ID)
	if err != nil {
		t.Fatalf("get admins: %v", err)
	}
	if len(admins) != 1 || admins[0] != alice.ID {
		t.Fatalf("expected alice as sole admin, got %v", admins)
	}

	// Second sync drops bob and promotes nobody.
	if err := s.UpdateGroupMembers(g.ID, []int64{alice.ID}, nil); err != nil {
		t.Fatalf("second update group members: %v", err)
	}
	members, err = s.GetGroupMembers(g.ID)
	if err != nil {
		t.Fatalf("get members after resync: %v", err)
	}
	if len(members) != 1 || members[0] != alice.ID {
		t.Fatalf("expected only alice after resync, got %v", members)
	}
}

func TestGetGroupsForRecipient(t *testing.T) {
	s := openTestStore(t)

	g1, err := s.StoreGroup("g1@g.us", "#g1", "")
	if err != nil {
		t.Fatalf("store g1: %v", err)
	}
	g2, err := s.StoreGroup("g2@g.us", "#g2", "")
	if err != nil {
		t.Fatalf("store g2: %v", err)
	}
	alice, err := s.StoreRecipient("+15550000001", "alice")
	if err != nil {
		t.Fatalf("store alice: %v", err)
	}

	if err := s.UpdateGroupMembers(g1.ID, []int64{alice.ID}, nil); err != nil {
		t.Fatalf("update g1 members: %v", err)
	}

	groups, err := s.GetGroupsForRecipient("+15550000001")
	if err != nil {
		t.Fatalf("get groups for recipient: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != g1.ID {
		t.Fatalf("expected only g1, got %v", groups)
	}
	_ = g2
}

func TestWaPersistence_UpsertsSingleton(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetWaPersistence(); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows before first store, got %v", err)
	}

	if err := s.StoreWaPersistence([]byte(`{"session":1}`)); err != nil {
		t.Fatalf("store persistence: %v", err)
	}
	if err := s.StoreWaPersistence([]byte(`{"session":2}`)); err != nil {
		t.Fatalf("re-store persistence: %v", err)
	}

	p, err := s.GetWaPersistence()
	if err != nil {
		t.Fatalf("get persistence: %v", err)
	}
	if string(p.Data) != `{"session":2}` {
		t.Fatalf("expected latest blob, got %q", p.Data)
	}
}

func TestWaMsgidDedup(t *testing.T) {
	s := openTestStore(t)

	stored, err := s.IsWaMsgidStored("ABC123")
	if err != nil {
		t.Fatalf("check msgid: %v", err)
	}
	if stored {
		t.Fatalf("expected msgid not yet stored")
	}

	if err := s.StoreWaMsgid("ABC123"); err != nil {
		t.Fatalf("store msgid: %v", err)
	}
	if err := s.StoreWaMsgid("ABC123"); err != nil {
		t.Fatalf("re-store msgid should be idempotent: %v", err)
	}

	stored, err = s.IsWaMsgidStored("ABC123")
	if err != nil {
		t.Fatalf("check msgid after store: %v", err)
	}
	if !stored {
		t.Fatalf("expected msgid to be stored")
	}
}
