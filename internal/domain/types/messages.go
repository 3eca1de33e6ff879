package types

import "time"

// Message is the wire and storage form of a chat message.
//
// A message without a Nonce is a legacy plaintext message and Content holds
// the text itself. Otherwise Content is the base64 AEAD ciphertext and Nonce
// the base64 nonce it was sealed with.
type Message struct {
	ID             MessageID       `json:"_id,omitempty"`
	ConversationID ConversationID  `json:"chatId"`
	SenderID       UserID          `json:"senderId"`
	SenderName     string          `json:"senderName,omitempty"`
	ClientID       ClientMessageID `json:"clientId,omitempty"`
	Nonce          string          `json:"iv,omitempty"`
	Content        string          `json:"content"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Encrypted reports whether the message carries AEAD ciphertext.
func (m Message) Encrypted() bool { return m.Nonce != "" }

// MessageStatus says how the text of a DisplayMessage was obtained.
type MessageStatus int

const (
	// StatusPlain is a legacy message delivered as-is.
	StatusPlain MessageStatus = iota
	// StatusDecrypted is an encrypted message opened with the session secret.
	StatusDecrypted
	// StatusFailed is an encrypted message whose decryption failed.
	StatusFailed
	// StatusLocked is an encrypted message in a conversation with no usable
	// session secret.
	StatusLocked
	// StatusPending is the sender's own optimistic copy.
	StatusPending
)

func (s MessageStatus) String() string {
	switch s {
	case StatusPlain:
		return "plain"
	case StatusDecrypted:
		return "decrypted"
	case StatusFailed:
		return "failed"
	case StatusLocked:
		return "locked"
	case StatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

// DisplayMessage is a message ready for the UI layer.
type DisplayMessage struct {
	Message
	Text   string        `json:"text"`
	Status MessageStatus `json:"status"`
}

// StreamFrame is one websocket frame between a client and the relay.
type StreamFrame struct {
	Type           string         `json:"type"`
	ConversationID ConversationID `json:"chatId,omitempty"`
	Message        *Message       `json:"message,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Stream frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePublish     = "publish"
	FrameMessage     = "message"
	FrameError       = "error"
)
