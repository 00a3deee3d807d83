// Package pdu decodes GSM SMS PDUs and normalizes phone addresses. It is the
// single source of truth for address normalization: every Store query that
// is parameterized by an address passes it through NormalizeAddress first,
// on both the write and read side, so "+1 555 1234", "15551234" and
// "+15551234" all resolve to the same recipient row.
package pdu

import (
	"fmt"
	"strings"
)

// NormalizeAddress reduces a phone address to a canonical form: a leading
// "+" followed only by digits. Anything that isn't a digit or a leading "+"
// is stripped, so formatting differences between upstream and the
// administrator never split one correspondent into two recipient rows.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}

	var b strings.Builder
	if strings.HasPrefix(addr, "+") {
		b.WriteByte('+')
		addr = addr[1:]
	}
	for _, r := range addr {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizeNick maps an arbitrary string (a phone address, a WhatsApp "notify"
// display name) into an IRC-nick-legal identifier: letters, digits, and
// `-_[]{}\^|` are kept; runs of anything else collapse to a single `-`. The
// result is guaranteed to start with a letter or one of the special
// characters IRC allows in the leading position, never a digit, since some
// servers reject nicks that start with one.
func SanitizeNick(s string) string {
	var b strings.Builder
	lastWasSep := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			strings.ContainsRune("-_[]{}\\^|", r):
			b.WriteRune(r)
			lastWasSep = false
		default:
			if !lastWasSep && b.Len() > 0 {
				b.WriteByte('-')
				lastWasSep = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "unknown"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "sms-" + out
	}
	return out
}

// DeliverPDU is the decoded form of an inbound SMS-DELIVER PDU: enough to
// reconstruct the sender address and the (possibly UCS2-encoded) text, and
// enough CSMS (concatenated SMS) header detail to reassemble multipart
// messages.
type DeliverPDU struct {
	Originator string
	Text       string
	// CSMSReference is nil for a single-part message.
	CSMSReference *int32
	CSMSPart      int
	CSMSTotal     int
}

// DecodeDeliverPDU decodes a raw SMS-DELIVER PDU. This is a simplified
// decoder: it supports the 7-bit GSM default alphabet and UCS2 encodings and
// the common single-octet concatenation IE (0x00), which covers the PDUs a
// modern Huawei-style modem driver emits. It does not implement the full
// GSM 03.40 PDU grammar (status reports, submit-report PDUs, 8-bit data
// encoding); the bridge only has to make sense of the deliver PDUs the
// modem driver hands the Store.
func DecodeDeliverPDU(raw []byte) (DeliverPDU, error) {
	if len(raw) < 2 {
		return DeliverPDU{}, fmt.Errorf("pdu: too short (%d bytes)", len(raw))
	}

	pos := 0

	smscLen := int(raw[pos])
	pos += 1 + smscLen
	if pos >= len(raw) {
		return DeliverPDU{}, fmt.Errorf("pdu: truncated after SMSC info")
	}

	firstOctet := raw[pos]
	hasUDH := firstOctet&0x40 != 0
	pos++
	if pos >= len(raw) {
		return DeliverPDU{}, fmt.Errorf("pdu: truncated before sender address")
	}

	addrLenDigits := int(raw[pos])
	pos++
	if pos >= len(raw) {
		return DeliverPDU{}, fmt.Errorf("pdu: truncated before address type")
	}
	addrType := raw[pos]
	pos++

	addrOctets := (addrLenDigits + 1) / 2
	if pos+addrOctets > len(raw) {
		return DeliverPDU{}, fmt.Errorf("pdu: truncated sender address")
	}
	originator := decodeSemiOctetDigits(raw[pos:pos+addrOctets], addrLenDigits)
	if addrType&0x70 == 0x50 {
		// Alphanumeric originator (GSM 7-bit packed); not a phone number.
		originator = decode7Bit(raw[pos:pos+addrOctets], addrLenDigits*4/7)
	} else if addrType&0xF0 == 0x90 {
		originator = "+" + originator
	}
	pos += addrOctets

	pos++ // PID
	if pos >= len(raw) {
		return DeliverPDU{}, fmt.Errorf("pdu: truncated before DCS")
	}
	dcs := raw[pos]
	pos++

	pos += 7 // SCTS timestamp, always 7 octets

	if pos >= len(raw) {
		return DeliverPDU{}, fmt.Errorf("pdu: truncated before UDL")
	}
	udl := int(raw[pos])
	pos++

	udStart := pos
	if udStart > len(raw) {
		return DeliverPDU{}, fmt.Errorf("pdu: truncated user data")
	}
	ud := raw[udStart:]

	result := DeliverPDU{Originator: originator}

	udhLen := 0
	udHeaderBytes := 0
	if hasUDH && len(ud) > 0 {
		udhLen = int(ud[0])
		udHeaderBytes = 1 + udhLen
		decodeCSMSHeader(ud[1:1+udhLen], &result)
	}

	is7Bit := dcs&0x0C == 0x00
	isUCS2 := dcs&0x0C == 0x08

	body := ud[udHeaderBytes:]

	switch {
	case isUCS2:
		result.Text = decodeUCS2(body)
	case is7Bit:
		// UDL counts septets including the UDH; convert to a septet offset.
		udhSeptets := 0
		if hasUDH {
			udhSeptets = ((udHeaderBytes * 8) + 6) / 7
		}
		remainingSeptets := udl - udhSeptets
		if remainingSeptets < 0 {
			remainingSeptets = 0
		}
		result.Text = decode7Bit(body, remainingSeptets)
	default:
		result.Text = string(body)
	}

	return result, nil
}

func decodeCSMSHeader(ies []byte, result *DeliverPDU) {
	i := 0
	for i+1 < len(ies) {
		iei := ies[i]
		iedl := int(ies[i+1])
		if i+2+iedl > len(ies) {
			return
		}
		data := ies[i+2 : i+2+iedl]
		switch iei {
		case 0x00: // concatenated short messages, 8-bit reference
			if len(data) == 3 {
				ref := int32(data[0])
				result.CSMSReference = &ref
				result.CSMSTotal = int(data[1])
				result.CSMSPart = int(data[2])
			}
		case 0x08: // concatenated short messages, 16-bit reference
			if len(data) == 4 {
				ref := int32(data[0])<<8 | int32(data[1])
				result.CSMSReference = &ref
				result.CSMSTotal = int(data[2])
				result.CSMSPart = int(data[3])
			}
		}
		i += 2 + iedl
	}
}

func decodeSemiOctetDigits(octets []byte, nDigits int) string {
	var b strings.Builder
	for _, o := range octets {
		lo := o & 0x0F
		hi := (o >> 4) & 0x0F
		if lo <= 9 {
			b.WriteByte('0' + lo)
		}
		if hi <= 9 {
			b.WriteByte('0' + hi)
		}
	}
	s := b.String()
	if len(s) > nDigits {
		s = s[:nDigits]
	}
	return s
}

// gsmAlphabet is the GSM 03.38 default alphabet, indexed by septet value.
// It must be a rune slice: several entries are outside ASCII.
var gsmAlphabet = []rune("@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞ\x1bÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà")

func decode7Bit(packed []byte, septetCount int) string {
	if septetCount <= 0 {
		return ""
	}

	var septets []byte
	var carry byte
	var carryBits uint
	for _, b := range packed {
		septets = append(septets, (b<<carryBits|carry)&0x7F)
		carry = b >> (7 - carryBits)
		carryBits++
		if carryBits == 7 {
			septets = append(septets, carry&0x7F)
			carry = 0
			carryBits = 0
		}
	}

	if len(septets) > septetCount {
		septets = septets[:septetCount]
	}

	var out strings.Builder
	for _, s := range septets {
		if int(s) < len(gsmAlphabet) {
			out.WriteRune(gsmAlphabet[s])
		}
	}
	return out.String()
}

func decodeUCS2(raw []byte) string {
	var runes []rune
	for i := 0; i+1 < len(raw); i += 2 {
		r := rune(raw[i])<<8 | rune(raw[i+1])
		runes = append(runes, r)
	}
	return string(runes)
}
