package types

import "time"

// Conversation is the relay record for a chat. Membership and WrappedSecrets
// are fixed when the conversation is created.
type Conversation struct {
	ID             ConversationID           `json:"_id"`
	Name           string                   `json:"name"`
	Participants   []UserID                 `json:"participants"`
	WrappedSecrets map[UserID]WrappedSecret `json:"encryptedKeys,omitempty"`
	CreatedAt      time.Time                `json:"createdAt"`
	LastMessageAt  time.Time                `json:"lastMessageAt"`
}

// HasParticipant reports whether id is a member of the conversation.
func (c Conversation) HasParticipant(id UserID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// WrappedSecretFor returns the wrapped session secret addressed to id.
func (c Conversation) WrappedSecretFor(id UserID) (WrappedSecret, bool) {
	w, ok := c.WrappedSecrets[id]
	if !ok || w == "" {
		return "", false
	}
	return w, true
}

// NewConversation is the creation request sent to the relay. The creator is
// added to the participants by the relay.
type NewConversation struct {
	ParticipantIDs []UserID                 `json:"userIds"`
	Name           string                   `json:"name,omitempty"`
	WrappedSecrets map[UserID]WrappedSecret `json:"encryptedKeys"`
}

// Phase is the lifecycle stage of the selected conversation.
type Phase int

const (
	// PhaseClosed means no conversation is selected.
	PhaseClosed Phase = iota
	// PhaseLoading means a conversation is selected and its secret and history
	// are being fetched.
	PhaseLoading
	// PhaseReady means the conversation is open for sending and receiving.
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ConversationState is a snapshot of the conversation controller.
type ConversationState struct {
	Phase          Phase
	ConversationID ConversationID
	// SecretPresent is meaningful in PhaseReady only.
	SecretPresent bool
}
