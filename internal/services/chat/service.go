package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cipherchat/internal/crypto"
	"cipherchat/internal/domain"
	"cipherchat/internal/protocol/keyexchange"
)

const (
	// MinQueryLength is the shortest user search query sent to the relay.
	MinQueryLength = 2
	// DefaultName is used for conversations created without a name.
	DefaultName = "Private Chat"
)

// ErrNoParticipants is returned when a conversation has nobody to talk to.
var ErrNoParticipants = errors.New("conversation needs at least one other participant")

// Service creates and lists conversations.
type Service struct {
	keys domain.KeyStore
	api  domain.ChatAPI
	log  zerolog.Logger
}

// New returns a chat service.
func New(keys domain.KeyStore, api domain.ChatAPI, log zerolog.Logger) *Service {
	return &Service{
		keys: keys,
		api:  api,
		log:  log.With().Str("component", "chat").Logger(),
	}
}

// SearchUsers looks up users by username. Queries shorter than
// MinQueryLength return no results without contacting the relay.
func (s *Service) SearchUsers(ctx context.Context, query string) ([]domain.User, error) {
	query = strings.TrimSpace(query)
	if len(query) < MinQueryLength {
		return nil, nil
	}
	return s.api.SearchUsers(ctx, query)
}

// ListConversations returns the caller's conversations.
func (s *Service) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	return s.api.ListConversations(ctx)
}

// CreateConversation creates a conversation between me and with.
//
// Creation is refused when me has no local keypair (ErrNoLocalKey), the key
// store fails (ErrStoreUnavailable, ErrKeyFormat) or a participant has not
// published a usable public key (ErrNoPublicKey, ErrKeyFormat).
func (s *Service) CreateConversation(
	ctx context.Context,
	me domain.User,
	with []domain.User,
	name string,
) (domain.Conversation, error) {
	kp, _, err := s.keys.Lookup(me.ID.String(), me.Email)
	if err != nil {
		return domain.Conversation{}, errors.WithMessage(err, "load local keys")
	}
	if kp == nil {
		return domain.Conversation{}, errors.Wrap(domain.ErrNoLocalKey, "create conversation")
	}

	recipients := map[domain.UserID]crypto.PublicKey{me.ID: kp.Public}
	var ids []domain.UserID
	for _, u := range with {
		if u.ID == me.ID {
			continue
		}
		if _, dup := recipients[u.ID]; dup {
			continue
		}
		if u.PublicKey == "" {
			return domain.Conversation{}, errors.Wrapf(domain.ErrNoPublicKey, "user %s", u.Username)
		}
		pub, err := crypto.ImportPublicKey(u.PublicKey)
		if err != nil {
			return domain.Conversation{}, errors.WithMessagef(err, "user %s", u.Username)
		}
		recipients[u.ID] = pub
		ids = append(ids, u.ID)
	}
	if len(ids) == 0 {
		return domain.Conversation{}, ErrNoParticipants
	}

	secret, err := keyexchange.GenerateSessionSecret()
	if err != nil {
		return domain.Conversation{}, err
	}
	defer keyexchange.Wipe(&secret)

	wrapped, err := keyexchange.WrapForParticipants(&secret, recipients)
	if err != nil {
		return domain.Conversation{}, err
	}

	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	conv, err := s.api.CreateConversation(ctx, domain.NewConversation{
		ParticipantIDs: ids,
		Name:           name,
		WrappedSecrets: wrapped,
	})
	if err != nil {
		return domain.Conversation{}, errors.WithMessage(err, "create conversation")
	}
	s.log.Info().
		Str("conversation_id", conv.ID.String()).
		Int("participants", len(conv.Participants)).
		Msg("conversation created")
	return conv, nil
}

// Compile-time assertion that Service implements domain.ChatService.
var _ domain.ChatService = (*Service)(nil)
