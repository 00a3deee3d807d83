package pdu

import "testing"

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"15551234567", "15551234567"},
		{"+15551234567", "+15551234567"},
		{"  +49 170 1234567 ", "+491701234567"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeAddress(c.in); got != c.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSanitizeNick(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+15551234567", "sms-15551234567"},
		{"Alice Smith", "Alice-Smith"},
		{"ärger!!", "rger"},
		{"", "unknown"},
		{"[bot]", "[bot]"},
	}
	for _, c := range cases {
		if got := SanitizeNick(c.in); got != c.want {
			t.Errorf("SanitizeNick(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// A single-part GSM 7-bit SMS-DELIVER from +15551234567 reading "Hi".
func hiPDU() []byte {
	return []byte{
		0x00,       // SMSC length 0
		0x04,       // first octet: SMS-DELIVER, no UDH
		0x0B, 0x91, // 11 digits, international
		0x51, 0x55, 0x21, 0x43, 0x65, 0xF7,
		0x00, 0x00, // PID, DCS 7-bit
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // SCTS
		0x02,       // UDL: 2 septets
		0xC8, 0x34, // "Hi"
	}
}

func TestDecodeDeliverPDU_SevenBit(t *testing.T) {
	d, err := DecodeDeliverPDU(hiPDU())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Originator != "+15551234567" {
		t.Errorf("originator = %q, want +15551234567", d.Originator)
	}
	if d.Text != "Hi" {
		t.Errorf("text = %q, want Hi", d.Text)
	}
	if d.CSMSReference != nil {
		t.Errorf("expected no CSMS reference on single-part message")
	}
}

func TestDecodeDeliverPDU_UCS2WithCSMSHeader(t *testing.T) {
	raw := []byte{
		0x00,       // SMSC length 0
		0x44,       // first octet: SMS-DELIVER, UDHI set
		0x0B, 0x91, // 11 digits, international
		0x51, 0x55, 0x21, 0x43, 0x65, 0xF7,
		0x00, 0x08, // PID, DCS UCS2
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // SCTS
		0x08,                         // UDL: 8 octets (6 UDH + 2 text)
		0x05, 0x00, 0x03, 0x2A, 0x02, 0x01, // UDH: concat IE, ref 42, 2 parts, part 1
		0x04, 0x2E, // "Ю"
	}
	d, err := DecodeDeliverPDU(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Text != "Ю" {
		t.Errorf("text = %q, want Ю", d.Text)
	}
	if d.CSMSReference == nil || *d.CSMSReference != 42 {
		t.Fatalf("expected CSMS reference 42, got %v", d.CSMSReference)
	}
	if d.CSMSTotal != 2 || d.CSMSPart != 1 {
		t.Errorf("expected part 1 of 2, got part %d of %d", d.CSMSPart, d.CSMSTotal)
	}
}

func TestDecodeDeliverPDU_Truncated(t *testing.T) {
	for i := 0; i < len(hiPDU())-2; i++ {
		if _, err := DecodeDeliverPDU(hiPDU()[:i]); err == nil {
			t.Errorf("expected error decoding %d-byte prefix", i)
		}
	}
}
