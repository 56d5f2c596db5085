package event_test

import (
	"testing"

	"famagpt-fabric/internal/event"
)

func TestConversationKey(t *testing.T) {
	e := &event.Inbound{InstanceID: "inst-1", Phone: "5511999999999"}
	if got, want := e.ConversationKey(), "inst-1:5511999999999"; got != want {
		t.Errorf("ConversationKey() = %q, want %q", got, want)
	}
}

func TestPriority(t *testing.T) {
	tests := []struct {
		kind event.Kind
		want int
	}{
		{event.KindSystem, 0},
		{event.KindText, 1},
		{event.KindEmoji, 1},
		{event.KindAudio, 2},
		{event.KindVoice, 2},
		{event.KindImage, 2},
		{event.KindSticker, 2},
		{event.KindUnknown, 2},
		{event.KindVideo, 3},
		{event.KindDocument, 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := &event.Inbound{Kind: tt.kind}
			if got := e.Priority(); got != tt.want {
				t.Errorf("Priority() for %s = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}
