package relayserver

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"cipherchat/internal/domain"
)

// Store errors, mapped to HTTP statuses by the handlers.
var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("not logged in")
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
)

const (
	// DefaultChatName is given to conversations created without a name.
	DefaultChatName = "Private Chat"
	// SearchLimit caps user search results.
	SearchLimit = 10
	// MinSearchLength is the shortest accepted search query.
	MinSearchLength = 2
)

type account struct {
	user         domain.User
	passwordHash []byte
}

// memoryStore holds all relay state.
type memoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*account // by lower-cased email
	users    map[domain.UserID]*account
	tokens   map[string]domain.UserID
	chats    map[domain.ConversationID]*domain.Conversation
	messages map[domain.ConversationID][]domain.Message
	now      func() time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: make(map[string]*account),
		users:    make(map[domain.UserID]*account),
		tokens:   make(map[string]domain.UserID),
		chats:    make(map[domain.ConversationID]*domain.Conversation),
		messages: make(map[domain.ConversationID][]domain.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryStore) register(reg domain.Registration) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	username := strings.TrimSpace(reg.Username)
	if email == "" || username == "" || reg.Password == "" {
		return domain.User{}, errors.Wrap(ErrInvalidRequest, "missing email, password or username")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, errors.Wrap(err, "hash password")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[email]; ok {
		return domain.User{}, ErrUserExists
	}
	for _, a := range s.users {
		if strings.EqualFold(a.user.Username, username) {
			return domain.User{}, ErrUserExists
		}
	}
	a := &account{
		user: domain.User{
			ID:        domain.UserID(uuid.NewString()),
			Username:  username,
			Email:     email,
			PublicKey: reg.PublicKey,
		},
		passwordHash: hash,
	}
	s.accounts[email] = a
	s.users[a.user.ID] = a
	return a.user, nil
}

func (s *memoryStore) login(creds domain.Credentials) (domain.Session, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	s.mu.RLock()
	a, ok := s.accounts[email]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(creds.Password)); err != nil {
		return domain.Session{}, ErrInvalidCredentials
	}

	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = a.user.ID
	s.mu.Unlock()
	return domain.Session{User: a.user, Token: token}, nil
}

func (s *memoryStore) logout(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

func (s *memoryStore) authenticate(token string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokens[token]
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	a, ok := s.users[id]
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	return a.user, nil
}

func (s *memoryStore) searchUsers(caller domain.UserID, query string) []domain.User {
	q := strings.ToLower(strings.TrimSpace(query))
	if len(q) < MinSearchLength {
		return []domain.User{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.User{}
	for id, a := range s.users {
		if id == caller || !strings.Contains(strings.ToLower(a.user.Username), q) {
			continue
		}
		out = append(out, a.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > SearchLimit {
		out = out[:SearchLimit]
	}
	return out
}

func (s *memoryStore) createChat(caller domain.UserID, req domain.NewConversation) (domain.Conversation, error) {
	if len(req.ParticipantIDs) == 0 {
		return domain.Conversation{}, errors.Wrap(ErrInvalidRequest, "userIds must be a non-empty array")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultChatName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	participants := []domain.UserID{caller}
	seen := map[domain.UserID]bool{caller: true}
	for _, id := range req.ParticipantIDs {
		if seen[id] {
			continue
		}
		if _, ok := s.users[id]; !ok {
			return domain.Conversation{}, errors.Wrapf(ErrInvalidRequest, "unknown user %s", id)
		}
		seen[id] = true
		participants = append(participants, id)
	}
	wrapped := make(map[domain.UserID]domain.WrappedSecret, len(req.WrappedSecrets))
	for id, w := range req.WrappedSecrets {
		if seen[id] {
			wrapped[id] = w
		}
	}
	now := s.now()
	conv := &domain.Conversation{
		ID:             domain.ConversationID(uuid.NewString()),
		Name:           name,
		Participants:   participants,
		WrappedSecrets: wrapped,
		CreatedAt:      now,
		LastMessageAt:  now,
	}
	s.chats[conv.ID] = conv
	return copyConversation(conv), nil
}

func (s *memoryStore) listChats(caller domain.UserID) []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Conversation{}
	for _, c := range s.chats {
		if c.HasParticipant(caller) {
			out = append(out, copyConversation(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out
}

// chat returns conversation id if caller participates in it.
func (s *memoryStore) chat(caller domain.UserID, id domain.ConversationID) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok || !c.HasParticipant(caller) {
		return domain.Conversation{}, ErrNotFound
	}
	return copyConversation(c), nil
}

func (s *memoryStore) history(caller domain.UserID, id domain.ConversationID) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok || !c.HasParticipant(caller) {
		return nil, ErrNotFound
	}
	out := make([]domain.Message, 0, len(s.messages[id]))
	for _, m := range s.messages[id] {
		if a, ok := s.users[m.SenderID]; ok {
			m.SenderName = a.user.Username
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// appendMessage stores msg from sender, stamping id, sender and time, and
// bumps the conversation's activity time.
func (s *memoryStore) appendMessage(sender domain.User, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[msg.ConversationID]
	if !ok || !c.HasParticipant(sender.ID) {
		return domain.Message{}, ErrNotFound
	}
	if msg.Content == "" {
		return domain.Message{}, errors.Wrap(ErrInvalidRequest, "empty message")
	}
	msg.ID = domain.MessageID(uuid.NewString())
	msg.SenderID = sender.ID
	msg.SenderName = sender.Username
	msg.Timestamp = s.now()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	c.LastMessageAt = msg.Timestamp
	return msg, nil
}

func copyConversation(c *domain.Conversation) domain.Conversation {
	out := *c
	out.Participants = append([]domain.UserID(nil), c.Participants...)
	out.WrappedSecrets = make(map[domain.UserID]domain.WrappedSecret, len(c.WrappedSecrets))
	for k, v := range c.WrappedSecrets {
		out.WrappedSecrets[k] = v
	}
	return out
}
