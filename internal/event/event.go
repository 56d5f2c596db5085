// Package event defines the canonical inbound message shape the fabric
// operates on, independent of any particular gateway wire format.
package event

import "time"

// Kind enumerates the message content types the fabric recognizes.
type Kind string

const (
	KindText     Kind = "text"
	KindEmoji    Kind = "emoji"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVoice    Kind = "voice"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindSystem   Kind = "system"
	KindUnknown  Kind = "unknown"
)

// Media describes a downloadable attachment on the inbound event.
type Media struct {
	URL      string
	MimeType string
	Caption  string
}

// Inbound is the canonical event every downstream component operates on.
type Inbound struct {
	GatewayMessageID string
	InstanceID       string
	Phone            string
	Contact          string
	Kind             Kind
	Content          string
	Media            *Media
	Timestamp        time.Time
	ReplyTo          string
	Forwarded        bool
	Raw              map[string]any

	// ForcedWorkflow overrides SelectWorkflow's keyword classification.
	// Set by the worker when re-enqueuing an event whose preceding
	// workflow already decided where it hands off next (e.g.
	// audio_processing's transcription -> property_search).
	ForcedWorkflow string
}

// ConversationKey identifies the ordering/locking domain this event
// belongs to: one WhatsApp instance, one phone number.
func (e *Inbound) ConversationKey() string {
	return e.InstanceID + ":" + e.Phone
}

// Priority maps the event's kind to the stream priority table: lower
// numbers are processed first.
func (e *Inbound) Priority() int {
	switch e.Kind {
	case KindSystem:
		return 0
	case KindText, KindEmoji:
		return 1
	case KindAudio, KindVoice, KindImage, KindSticker, KindUnknown:
		return 2
	case KindVideo, KindDocument:
		return 3
	default:
		return 2
	}
}
