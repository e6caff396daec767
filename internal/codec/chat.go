package codec

import (
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/models"
)

func DecodeThread(id string, f docstore.Fields) (models.ChatThread, error) {
	r := newReader(f)
	t := models.ChatThread{
		ID:           id,
		Participants: r.stringList("participants"),
		LastMessage:  r.optionalString("lastMessage", ""),
	}
	t.LastMessageAt, _ = r.optionalTime("lastMessageAt")
	t.CreatedAt, _ = r.optionalTime("createdAt")

	def := models.ThreadDirect
	if len(t.Participants) == 1 {
		def = models.ThreadAssisted
	}
	t.Kind = models.ThreadKind(r.optionalString("kind", string(def)))

	if r.err != nil {
		return models.ChatThread{}, r.err
	}
	if len(t.Participants) == 0 {
		return models.ChatThread{}, &FieldError{Field: "participants", Reason: "empty"}
	}
	return t, nil
}

func EncodeThread(t models.ChatThread) docstore.Fields {
	f := docstore.Fields{
		"kind":         string(t.Kind),
		"participants": EncodeStrings(t.Participants),
		"createdAt":    t.CreatedAt,
	}
	if !t.LastMessageAt.IsZero() {
		f["lastMessage"] = t.LastMessage
		f["lastMessageAt"] = t.LastMessageAt
	}
	return f
}

// MessageDecoder binds the thread id, which lives in the collection path
// rather than in the message document.
func MessageDecoder(threadID string) DecodeFunc[models.ChatMessage] {
	return func(id string, f docstore.Fields) (models.ChatMessage, error) {
		r := newReader(f)
		m := models.ChatMessage{
			ID:          id,
			ThreadID:    threadID,
			SenderEmail: r.requiredString("senderEmail"),
			SenderName:  r.optionalString("senderName", ""),
			Content:     r.requiredString("content"),
			Timestamp:   r.requiredTime("timestamp"),
		}
		if r.err != nil {
			return models.ChatMessage{}, r.err
		}
		return m, nil
	}
}

func EncodeMessage(m models.ChatMessage) docstore.Fields {
	return docstore.Fields{
		"senderEmail": m.SenderEmail,
		"senderName":  m.SenderName,
		"content":     m.Content,
		"timestamp":   m.Timestamp,
	}
}
