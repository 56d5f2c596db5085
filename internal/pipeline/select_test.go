package pipeline_test

import (
	"testing"

	"famagpt-fabric/internal/event"
	"famagpt-fabric/internal/pipeline"
)

func TestSelectWorkflow(t *testing.T) {
	tests := []struct {
		name    string
		kind    event.Kind
		content string
		want    string
	}{
		{"voice note always transcribes", event.KindVoice, "oi tudo bem?", "audio_processing"},
		{"audio always transcribes", event.KindAudio, "", "audio_processing"},
		{"greeting", event.KindText, "Oi, bom dia!", "greeting"},
		{"property search", event.KindText, "Procuro um apartamento para alugar", "property_search"},
		{"question", event.KindText, "Quando você vai responder?", "question_answering"},
		{"general fallback", event.KindText, "ok obrigado", "general_conversation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &event.Inbound{Kind: tt.kind, Content: tt.content}
			if got := pipeline.SelectWorkflow(e); got != tt.want {
				t.Errorf("SelectWorkflow() = %q, want %q", got, tt.want)
			}
		})
	}
}
