package interfaces

import (
	"context"

	domaintypes "cipherchat/internal/domain/types"
)

// ChatAPI is how we talk to the relay's REST surface, all with context.
type ChatAPI interface {
	// SetToken installs the bearer token used by authenticated calls.
	SetToken(token string)

	Register(ctx context.Context, reg domaintypes.Registration) (domaintypes.User, error)
	Login(ctx context.Context, creds domaintypes.Credentials) (domaintypes.Session, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (domaintypes.User, error)

	SearchUsers(ctx context.Context, query string) ([]domaintypes.User, error)
	ListConversations(ctx context.Context) ([]domaintypes.Conversation, error)
	FetchConversation(
		ctx context.Context,
		id domaintypes.ConversationID,
	) (domaintypes.Conversation, error)
	CreateConversation(
		ctx context.Context,
		req domaintypes.NewConversation,
	) (domaintypes.Conversation, error)
	FetchMessages(
		ctx context.Context,
		id domaintypes.ConversationID,
	) ([]domaintypes.Message, error)
}

// MessageStream is the live message channel to the relay.
type MessageStream interface {
	Subscribe(ctx context.Context, id domaintypes.ConversationID) error
	Unsubscribe(ctx context.Context, id domaintypes.ConversationID) error
	Publish(ctx context.Context, msg domaintypes.Message) error
	// OnMessage installs the handler invoked for every delivered message.
	OnMessage(handler func(domaintypes.Message))
	Close() error
}
