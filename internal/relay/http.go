package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"cipherchat/internal/domain"
)

var (
	// ErrUnauthorized is returned for 401 responses.
	ErrUnauthorized = errors.New("relay: unauthorized")
	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("relay: not found")
	// ErrConflict is returned for 409 responses.
	ErrConflict = errors.New("relay: conflict")
)

// StatusError is a non-2xx relay response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	// Message is the relay's error text, if it sent one.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("relay %s %s: %d: %s", e.Method, e.URL, e.Code, e.Message)
	}
	return fmt.Sprintf("relay %s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// Unwrap classifies the status so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		return nil
	}
}

// HTTP is the relay's REST client.
type HTTP struct {
	Base string
	HTTP *http.Client

	mu    sync.RWMutex
	token string
}

// NewHTTP returns a client for the relay at base.
func NewHTTP(base string) *HTTP {
	return &HTTP{Base: strings.TrimRight(base, "/"), HTTP: http.DefaultClient}
}

// SetToken installs the bearer token sent with every request.
func (c *HTTP) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *HTTP) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Register creates an account.
func (c *HTTP) Register(ctx context.Context, reg domain.Registration) (domain.User, error) {
	var out struct {
		User domain.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/register", reg, &out); err != nil {
		return domain.User{}, err
	}
	return out.User, nil
}

// Login exchanges credentials for a session. The token is not installed;
// callers decide whether to keep it.
func (c *HTTP) Login(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	var out domain.Session
	if err := c.do(ctx, http.MethodPost, "/api/login", creds, &out); err != nil {
		return domain.Session{}, err
	}
	return out, nil
}

// Logout revokes the current token.
func (c *HTTP) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/logout", nil, nil)
}

// Me returns the authenticated user.
func (c *HTTP) Me(ctx context.Context) (domain.User, error) {
	var out domain.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return domain.User{}, err
	}
	return out, nil
}

// SearchUsers finds users by username.
func (c *HTTP) SearchUsers(ctx context.Context, query string) ([]domain.User, error) {
	var out []domain.User
	path := "/api/users/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListConversations returns the caller's conversations, newest activity first.
func (c *HTTP) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchConversation returns one conversation.
func (c *HTTP) FetchConversation(ctx context.Context, id domain.ConversationID) (domain.Conversation, error) {
	var out domain.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(id.String()), nil, &out); err != nil {
		return domain.Conversation{}, err
	}
	return out, nil
}

// CreateConversation creates a conversation with the caller as a participant.
func (c *HTTP) CreateConversation(ctx context.Context, req domain.NewConversation) (domain.Conversation, error) {
	var out domain.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/chats", req, &out); err != nil {
		return domain.Conversation{}, err
	}
	return out, nil
}

// FetchMessages returns a conversation's history.
func (c *HTTP) FetchMessages(ctx context.Context, id domain.ConversationID) ([]domain.Message, error) {
	var out []domain.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(id.String()), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTP) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = buf
	}
	u := c.Base + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "relay %s %s", method, u)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &StatusError{Method: method, URL: u, Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, u)
	}
	return nil
}

var _ domain.ChatAPI = (*HTTP)(nil)
