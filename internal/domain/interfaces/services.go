package interfaces

import (
	"context"

	domaintypes "cipherchat/internal/domain/types"
)

// IdentityService registers accounts and logs this device in.
type IdentityService interface {
	Register(
		ctx context.Context,
		email, password, username string,
	) (domaintypes.User, domaintypes.Fingerprint, error)
	Login(ctx context.Context, email, password string) (domaintypes.LoginResult, error)
	Logout(ctx context.Context) error
	Fingerprint(id domaintypes.UserID) (domaintypes.Fingerprint, error)
}

// ChatService finds users and creates and lists conversations.
type ChatService interface {
	SearchUsers(ctx context.Context, query string) ([]domaintypes.User, error)
	ListConversations(ctx context.Context) ([]domaintypes.Conversation, error)
	CreateConversation(
		ctx context.Context,
		me domaintypes.User,
		with []domaintypes.User,
		name string,
	) (domaintypes.Conversation, error)
}

// ConversationController owns the selected conversation.
type ConversationController interface {
	Select(ctx context.Context, id domaintypes.ConversationID) error
	Deselect(ctx context.Context) error
	Receive(msg domaintypes.Message)
	Send(ctx context.Context, text string) error
	Messages() []domaintypes.DisplayMessage
	State() domaintypes.ConversationState
}

// ConversationListener is notified of controller changes. Callbacks run on
// the goroutine that caused them and must not block.
type ConversationListener interface {
	ConversationSelected(state domaintypes.ConversationState)
	HistoryLoaded(id domaintypes.ConversationID, msgs []domaintypes.DisplayMessage)
	MessageAppended(id domaintypes.ConversationID, msg domaintypes.DisplayMessage)
}
