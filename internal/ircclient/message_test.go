package ircclient

import "testing"

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		want    Message
		nick    string
		trailer string
	}{
		{
			name: "privmsg with trailing",
			line: ":alice!a@host PRIVMSG bob :hello there",
			want: Message{Prefix: "alice!a@host", Command: "PRIVMSG", Params: []string{"bob", "hello there"}},
			nick: "alice", trailer: "hello there",
		},
		{
			name: "command with no prefix",
			line: "PING :12345",
			want: Message{Command: "PING", Params: []string{"12345"}},
			trailer: "12345",
		},
		{
			name: "no trailing param",
			line: ":irc.example.net 433 * alice",
			want: Message{Prefix: "irc.example.net", Command: "433", Params: []string{"*", "alice"}},
			nick: "irc.example.net", trailer: "alice",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseMessage(tc.line)
			if got.Prefix != tc.want.Prefix || got.Command != tc.want.Command || len(got.Params) != len(tc.want.Params) {
				t.Fatalf("ParseMessage(%q) = %+v, want %+v", tc.line, got, tc.want)
			}
			for i := range got.Params {
				if got.Params[i] != tc.want.Params[i] {
					t.Fatalf("ParseMessage(%q) param %d = %q, want %q", tc.line, i, got.Params[i], tc.want.Params[i])
				}
			}
			if got.Nick() != tc.nick {
				t.Fatalf("Nick() = %q, want %q", got.Nick(), tc.nick)
			}
			if got.Trailing() != tc.trailer {
				t.Fatalf("Trailing() = %q, want %q", got.Trailing(), tc.trailer)
			}
		})
	}
}

func TestFormatMessage(t *testing.T) {
	cases := []struct {
		command string
		params  []string
		want    string
	}{
		{"NICK", []string{"alice"}, "NICK alice"},
		{"PRIVMSG", []string{"bob", "hello there"}, "PRIVMSG bob :hello there"},
		{"WATCH", []string{"+admin"}, "WATCH +admin"},
		{"AWAY", []string{""}, "AWAY :"},
	}

	for _, tc := range cases {
		got := FormatMessage(tc.command, tc.params...)
		if got != tc.want {
			t.Fatalf("FormatMessage(%q, %v) = %q, want %q", tc.command, tc.params, got, tc.want)
		}
	}
}
