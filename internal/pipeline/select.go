// Package pipeline implements the C7 worker: consuming the durable
// stream, classifying intent, executing the matching workflow, and
// replying through the gateway, with retry/DLQ handling on failure.
package pipeline

import (
	"strings"

	"famagpt-fabric/internal/event"
)

var greetingKeywords = []string{"oi", "olá", "ola", "bom dia", "boa tarde", "boa noite", "hello", "hi"}
var propertyKeywords = []string{"imóvel", "imovel", "casa", "apartamento", "aluguel", "comprar", "terreno", "property"}
var questionKeywords = []string{"?", "como", "quando", "onde", "qual", "quanto", "por que", "porque"}

// SelectWorkflow classifies an inbound event into one of the five named
// workflows, keyword-based. A non-empty ForcedWorkflow wins; otherwise
// audio/voice is routed to transcription before any keyword check.
func SelectWorkflow(e *event.Inbound) string {
	if e.ForcedWorkflow != "" {
		return e.ForcedWorkflow
	}
	if e.Kind == event.KindAudio || e.Kind == event.KindVoice {
		return "audio_processing"
	}

	content := strings.ToLower(e.Content)

	if containsAny(content, greetingKeywords) {
		return "greeting"
	}
	if containsAny(content, propertyKeywords) {
		return "property_search"
	}
	if containsAny(content, questionKeywords) {
		return "question_answering"
	}
	return "general_conversation"
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
