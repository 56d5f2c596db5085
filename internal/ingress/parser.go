// Package ingress implements the C6 webhook ingress: gateway payload
// parsing, signature verification, and the full dedupe/lock/publish
// handler pipeline.
package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"famagpt-fabric/internal/event"
)

// Parser turns a raw gateway webhook body into a canonical event.Inbound.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// ErrNotMessageEvent marks a well-formed webhook body that doesn't carry
// an actual inbound message (delivery receipts, status callbacks).
type notMessageEvent struct{}

func (notMessageEvent) Error() string { return "webhook payload is not a message event" }

var ErrNotMessageEvent error = notMessageEvent{}

// Parse decodes raw into an Inbound event, returning ErrNotMessageEvent
// for well-formed non-message payloads (e.g. delivery acks).
func (p *Parser) Parse(raw []byte) (*event.Inbound, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	instanceID, _ := payload["instance"].(string)
	data, _ := payload["data"].(map[string]any)
	if data == nil {
		return nil, ErrNotMessageEvent
	}

	if !isMessageEvent(data) {
		return nil, ErrNotMessageEvent
	}

	key, _ := data["key"].(map[string]any)
	messageID, _ := key["id"].(string)
	remoteJid, _ := key["remoteJid"].(string)
	phone := strings.TrimSuffix(remoteJid, "@s.whatsapp.net")

	messageInfo, _ := data["message"].(map[string]any)
	kind, content, media := extractContent(messageInfo)

	pushName, _ := data["pushName"].(string)

	var replyTo string
	forwarded := false
	if ctxInfo, ok := messageInfo["contextInfo"].(map[string]any); ok {
		if _, hasQuoted := ctxInfo["quotedMessage"]; hasQuoted {
			replyTo, _ = ctxInfo["stanzaId"].(string)
		}
		if f, ok := ctxInfo["isForwarded"].(bool); ok {
			forwarded = f
		}
	}

	ts := parseTimestamp(data["messageTimestamp"])

	return &event.Inbound{
		GatewayMessageID: messageID,
		InstanceID:       instanceID,
		Phone:            phone,
		Contact:          pushName,
		Kind:             kind,
		Content:          content,
		Media:            media,
		Timestamp:        ts,
		ReplyTo:          replyTo,
		Forwarded:        forwarded,
		Raw:              payload,
	}, nil
}

func isMessageEvent(data map[string]any) bool {
	_, hasMessage := data["message"]
	_, hasKey := data["key"]
	status, _ := data["status"].(string)
	isAck := status == "DELIVERY_ACK" || status == "READ_ACK" || status == "PLAYED_ACK"

	hasContent := false
	if hasMessage {
		if msg, ok := data["message"].(map[string]any); ok {
			for _, k := range []string{"conversation", "extendedTextMessage", "imageMessage",
				"videoMessage", "audioMessage", "documentMessage", "stickerMessage",
				"locationMessage", "contactMessage"} {
				if _, ok := msg[k]; ok {
					hasContent = true
					break
				}
			}
		}
	}

	return hasMessage && hasKey && (!isAck || hasContent)
}

func extractContent(msg map[string]any) (event.Kind, string, *event.Media) {
	if msg == nil {
		return event.KindUnknown, "", nil
	}
	if text, ok := msg["conversation"].(string); ok {
		return event.KindText, text, nil
	}
	if ext, ok := msg["extendedTextMessage"].(map[string]any); ok {
		text, _ := ext["text"].(string)
		return event.KindText, text, nil
	}
	if img, ok := msg["imageMessage"].(map[string]any); ok {
		caption, _ := img["caption"].(string)
		return event.KindImage, caption, mediaFrom(img, "")
	}
	if vid, ok := msg["videoMessage"].(map[string]any); ok {
		caption, _ := vid["caption"].(string)
		return event.KindVideo, caption, mediaFrom(vid, "")
	}
	if audio, ok := msg["audioMessage"].(map[string]any); ok {
		if _, isPTT := audio["ptt"]; isPTT {
			return event.KindVoice, "[voice message]", mediaFrom(audio, "")
		}
		return event.KindAudio, "[audio]", mediaFrom(audio, "")
	}
	if doc, ok := msg["documentMessage"].(map[string]any); ok {
		name, _ := doc["fileName"].(string)
		if name == "" {
			name = "[document]"
		}
		return event.KindDocument, name, mediaFrom(doc, "")
	}
	if _, ok := msg["stickerMessage"].(map[string]any); ok {
		return event.KindSticker, "[sticker]", nil
	}
	return event.KindUnknown, "[unsupported message type]", nil
}

func mediaFrom(m map[string]any, fallbackCaption string) *event.Media {
	mime, _ := m["mimetype"].(string)
	url, _ := m["url"].(string)
	caption, ok := m["caption"].(string)
	if !ok {
		caption = fallbackCaption
	}
	return &event.Media{URL: url, MimeType: mime, Caption: caption}
}

func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Now().UTC()
}

// VerifySignature checks an HMAC-SHA256 signature over body using secret,
// accepting an optional leading "sha256=" prefix, with a constant-time
// comparison.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	signature = strings.TrimPrefix(signature, "sha256=")
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
