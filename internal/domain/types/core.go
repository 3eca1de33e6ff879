package types

// UserID is the durable identifier the relay assigns to an account.
type UserID string

// String returns the string form of the user identifier.
func (id UserID) String() string { return string(id) }

// ConversationID identifies a conversation on the relay.
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

// MessageID identifies a persisted message.
type MessageID string

// String returns the string form of the message identifier.
func (id MessageID) String() string { return string(id) }

// ClientMessageID is a client-generated correlation id carried by a message
// so the sender can recognise the relay's echo of its own optimistic copy.
type ClientMessageID string

// String returns the string form of the correlation identifier.
func (id ClientMessageID) String() string { return string(id) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }
