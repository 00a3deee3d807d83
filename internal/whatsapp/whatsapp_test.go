package whatsapp

import (
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func TestExtractText_PrefersConversation(t *testing.T) {
	msg := &events.Message{
		Message: &waE2E.Message{
			Conversation: proto.String("hello"),
		},
	}
	if got := extractText(msg); got != "hello" {
		t.Fatalf("extractText() = %q, want %q", got, "hello")
	}
}

func TestExtractText_ExtendedText(t *testing.T) {
	msg := &events.Message{
		Message: &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String("quoted reply"),
			},
		},
	}
	if got := extractText(msg); got != "quoted reply" {
		t.Fatalf("extractText() = %q, want %q", got, "quoted reply")
	}
}

func TestExtractText_ImageCaption(t *testing.T) {
	msg := &events.Message{
		Message: &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption: proto.String("a photo"),
			},
		},
	}
	if got := extractText(msg); got != "a photo" {
		t.Fatalf("extractText() = %q, want %q", got, "a photo")
	}
}

func TestExtractText_Empty(t *testing.T) {
	msg := &events.Message{Message: &waE2E.Message{}}
	if got := extractText(msg); got != "" {
		t.Fatalf("extractText() = %q, want empty", got)
	}
}
