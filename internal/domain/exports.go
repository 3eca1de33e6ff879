package domain

import (
	interfaces "cipherchat/internal/domain/interfaces"
	types "cipherchat/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID            = types.UserID
	ConversationID    = types.ConversationID
	MessageID         = types.MessageID
	ClientMessageID   = types.ClientMessageID
	Fingerprint       = types.Fingerprint
	PortableKey       = types.PortableKey
	WrappedSecret     = types.WrappedSecret
	SessionSecret     = types.SessionSecret
	User              = types.User
	Registration      = types.Registration
	Credentials       = types.Credentials
	Session           = types.Session
	LoginResult       = types.LoginResult
	Profile           = types.Profile
	Conversation      = types.Conversation
	NewConversation   = types.NewConversation
	Phase             = types.Phase
	ConversationState = types.ConversationState
	Message           = types.Message
	MessageStatus     = types.MessageStatus
	DisplayMessage    = types.DisplayMessage
	StreamFrame       = types.StreamFrame
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	KeyStore               = interfaces.KeyStore
	ProfileStore           = interfaces.ProfileStore
	ChatAPI                = interfaces.ChatAPI
	MessageStream          = interfaces.MessageStream
	IdentityService        = interfaces.IdentityService
	ChatService            = interfaces.ChatService
	ConversationController = interfaces.ConversationController
	ConversationListener   = interfaces.ConversationListener
)

// Phases, statuses and frame types.
const (
	PhaseClosed  = types.PhaseClosed
	PhaseLoading = types.PhaseLoading
	PhaseReady   = types.PhaseReady

	StatusPlain     = types.StatusPlain
	StatusDecrypted = types.StatusDecrypted
	StatusFailed    = types.StatusFailed
	StatusLocked    = types.StatusLocked
	StatusPending   = types.StatusPending

	FrameSubscribe   = types.FrameSubscribe
	FrameUnsubscribe = types.FrameUnsubscribe
	FramePublish     = types.FramePublish
	FrameMessage     = types.FrameMessage
	FrameError       = types.FrameError

	DecryptionFailedText = types.DecryptionFailedText
	LockedText           = types.LockedText
)

// Error kinds.
var (
	ErrStoreUnavailable = types.ErrStoreUnavailable
	ErrKeyFormat        = types.ErrKeyFormat
	ErrCryptoOperation  = types.ErrCryptoOperation
	ErrDecryptionFailed = types.ErrDecryptionFailed
	ErrNoSessionSecret  = types.ErrNoSessionSecret
	ErrNoLocalKey       = types.ErrNoLocalKey
	ErrNoPublicKey      = types.ErrNoPublicKey
	ErrNoConversation   = types.ErrNoConversation
	ErrSuperseded       = types.ErrSuperseded
)
