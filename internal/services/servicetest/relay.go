package servicetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"cipherchat/internal/domain"
)

// ErrNotFound is returned for unknown or inaccessible records.
var ErrNotFound = errors.New("not found")

// Epoch is the relay clock's first timestamp.
var Epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type account struct {
	user     domain.User
	password string
}

// Relay is an in-memory relay shared by any number of clients.
type Relay struct {
	mu       sync.Mutex
	seq      int
	accounts map[string]*account // by email
	tokens   map[string]domain.UserID
	convs    map[domain.ConversationID]domain.Conversation
	messages map[domain.ConversationID][]domain.Message
	clients  []*Client
}

// NewRelay returns an empty relay.
func NewRelay() *Relay {
	return &Relay{
		accounts: make(map[string]*account),
		tokens:   make(map[string]domain.UserID),
		convs:    make(map[domain.ConversationID]domain.Conversation),
		messages: make(map[domain.ConversationID][]domain.Message),
	}
}

// Client returns a new, logged-out device connection.
func (r *Relay) Client() *Client {
	c := &Client{relay: r, subs: make(map[domain.ConversationID]bool)}
	r.mu.Lock()
	r.clients = append(r.clients, c)
	r.mu.Unlock()
	return c
}

// AddUser creates an account directly and returns it.
func (r *Relay) AddUser(email, username string, pub domain.PortableKey) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addUserLocked(email, "password", username, pub)
}

// AddConversation stores conv as-is, assigning an id if it has none.
func (r *Relay) AddConversation(conv domain.Conversation) domain.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv.ID == "" {
		conv.ID = domain.ConversationID(r.nextID("c"))
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = r.now()
	}
	r.convs[conv.ID] = conv
	return conv
}

// Seed appends msg to history without delivering it. A zero timestamp is
// filled from the relay clock.
func (r *Relay) Seed(msg domain.Message) domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.storeLocked(msg)
}

// History returns the stored messages of a conversation in insertion order.
func (r *Relay) History(id domain.ConversationID) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Message(nil), r.messages[id]...)
}

// Conversation returns a stored conversation.
func (r *Relay) Conversation(id domain.ConversationID) (domain.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	return c, ok
}

func (r *Relay) addUserLocked(email, password, username string, pub domain.PortableKey) domain.User {
	u := domain.User{
		ID:        domain.UserID(r.nextID("u")),
		Username:  username,
		Email:     email,
		PublicKey: pub,
	}
	r.accounts[email] = &account{user: u, password: password}
	return u
}

func (r *Relay) storeLocked(msg domain.Message) domain.Message {
	if msg.ID == "" {
		msg.ID = domain.MessageID(r.nextID("m"))
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}
	if msg.SenderName == "" {
		for _, a := range r.accounts {
			if a.user.ID == msg.SenderID {
				msg.SenderName = a.user.Username
			}
		}
	}
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], msg)
	if conv, ok := r.convs[msg.ConversationID]; ok {
		conv.LastMessageAt = msg.Timestamp
		r.convs[msg.ConversationID] = conv
	}
	return msg
}

func (r *Relay) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s%d", prefix, r.seq)
}

func (r *Relay) now() time.Time {
	r.seq++
	return Epoch.Add(time.Duration(r.seq) * time.Second)
}

// Client is one device's view of the relay.
type Client struct {
	relay *Relay

	// Hook, when set, runs at the start of every ChatAPI call with the call
	// name. A non-nil return fails the call.
	Hook func(ctx context.Context, call string) error

	mu      sync.Mutex
	token   string
	handler func(domain.Message)
	subs    map[domain.ConversationID]bool
	closed  bool
}

// SetToken installs the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Subscribed reports whether the client is subscribed to id.
func (c *Client) Subscribed(id domain.ConversationID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *Client) call(ctx context.Context, name string) error {
	if c.Hook != nil {
		if err := c.Hook(ctx, name); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// me resolves the caller. Must be called with relay.mu held.
func (c *Client) me() (domain.User, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	id, ok := c.relay.tokens[token]
	if !ok {
		return domain.User{}, errors.New("unauthorized")
	}
	for _, a := range c.relay.accounts {
		if a.user.ID == id {
			return a.user, nil
		}
	}
	return domain.User{}, errors.New("unauthorized")
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, reg domain.Registration) (domain.User, error) {
	if err := c.call(ctx, "Register"); err != nil {
		return domain.User{}, err
	}
	r := c.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[reg.Email]; exists {
		return domain.User{}, errors.New("user already exists")
	}
	return r.addUserLocked(reg.Email, reg.Password, reg.Username, reg.PublicKey), nil
}

// Login exchanges credentials for a session and installs the token.
func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	if err := c.call(ctx, "Login"); err != nil {
		return domain.Session{}, err
	}
	r := c.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[creds.Email]
	if !ok || a.password != creds.Password {
		return domain.Session{}, errors.New("invalid credentials")
	}
	token := r.nextID("t")
	r.tokens[token] = a.user.ID
	return domain.Session{User: a.user, Token: token}, nil
}

// Logout revokes the current token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.call(ctx, "Logout"); err != nil {
		return err
	}
	c.relay.mu.Lock()
	delete(c.relay.tokens, c.Token())
	c.relay.mu.Unlock()
	return nil
}

// Me returns the caller.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	if err := c.call(ctx, "Me"); err != nil {
		return domain.User{}, err
	}
	c.relay.mu.Lock()
	defer c.relay.mu.Unlock()
	return c.me()
}

// SearchUsers matches usernames case-insensitively, excluding the caller.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]domain.User, error) {
	if err := c.call(ctx, "SearchUsers"); err != nil {
		return nil, err
	}
	r := c.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	me, err := c.me()
	if err != nil {
		return nil, err
	}
	var out []domain.User
	for _, a := range r.accounts {
		if a.user.ID != me.ID && strings.Contains(strings.ToLower(a.user.Username), strings.ToLower(query)) {
			out = append(out, a.user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// ListConversations returns the caller's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	if err := c.call(ctx, "ListConversations"); err != nil {
		return nil, err
	}
	r := c.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	me, err := c.me()
	if err != nil {
		return nil, err
	}
	var out []domain.Conversation
	for _, conv := range r.convs {
		if conv.HasParticipant(me.ID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchConversation returns a conversation the caller belongs to.
func (c *Client) FetchConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	if err := c.call(ctx, "FetchConversation"); err != nil {
		return domain.Conversation{}, err
	}
	r := c.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	return conv, nil
}

// CreateConversation stores a conversation with the caller added.
func (c *Client) CreateConversation(ctx context.Context, req domain.NewConversation) (domain.Conversation, error) {
	if err := c.call(ctx, "CreateConversation"); err != nil {
		return domain.Conversation{}, err
	}
	r := c.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	me, err := c.me()
	if err != nil {
		return domain.Conversation{}, err
	}
	participants := []domain.UserID{me.ID}
	for _, id := range req.ParticipantIDs {
		if id != me.ID {
			participants = append(participants, id)
		}
	}
	conv := domain.Conversation{
		ID:             domain.ConversationID(r.nextID("c")),
		Name:           req.Name,
		Participants:   participants,
		WrappedSecrets: req.WrappedSecrets,
		CreatedAt:      r.now(),
	}
	r.convs[conv.ID] = conv
	return conv, nil
}

// FetchMessages returns the stored history in insertion order.
func (c *Client) FetchMessages(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	if err := c.call(ctx, "FetchMessages"); err != nil {
		return nil, err
	}
	return c.relay.History(id), nil
}

// Subscribe starts delivery of id's messages to this client.
func (c *Client) Subscribe(ctx context.Context, id domain.ConversationID) error {
	if err := c.call(ctx, "Subscribe"); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[id] = true
	c.mu.Unlock()
	return nil
}

// Unsubscribe stops delivery of id's messages.
func (c *Client) Unsubscribe(ctx context.Context, id domain.ConversationID) error {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
	return nil
}

// Publish stores msg and delivers it to every subscribed client.
func (c *Client) Publish(ctx context.Context, msg domain.Message) error {
	if err := c.call(ctx, "Publish"); err != nil {
		return err
	}
	r := c.relay
	r.mu.Lock()
	msg.Timestamp = time.Time{}
	msg = r.storeLocked(msg)
	clients := append([]*Client(nil), r.clients...)
	r.mu.Unlock()

	for _, other := range clients {
		other.deliver(msg)
	}
	return nil
}

// Deliver pushes msg to this client's handler as if the relay sent it.
func (c *Client) Deliver(msg domain.Message) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (c *Client) deliver(msg domain.Message) {
	c.mu.Lock()
	h := c.handler
	ok := c.subs[msg.ConversationID] && !c.closed
	c.mu.Unlock()
	if ok && h != nil {
		h(msg)
	}
}

// OnMessage installs the delivery handler.
func (c *Client) OnMessage(handler func(domain.Message)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Close stops delivery.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

var (
	_ domain.ChatAPI       = (*Client)(nil)
	_ domain.MessageStream = (*Client)(nil)
)
