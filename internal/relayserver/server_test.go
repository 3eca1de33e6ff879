package relayserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherchat/internal/domain"
	"cipherchat/internal/relayserver"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type harness struct {
	t   *testing.T
	srv *relayserver.Server
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, srv: relayserver.New(zerolog.Nop())}
}

// call performs a request and decodes the JSON response into out when non-nil.
func (h *harness) call(method, path, token string, in, out any) int {
	h.t.Helper()
	var body bytes.Buffer
	if in != nil {
		require.NoError(h.t, json.NewEncoder(&body).Encode(in))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Code/100 == 2 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

// signup registers and logs in a user, returning the session.
func (h *harness) signup(username string) domain.Session {
	h.t.Helper()
	email := username + "@example.com"
	code := h.call(http.MethodPost, "/api/register", "", domain.Registration{
		Email:     email,
		Password:  "password-" + username,
		Username:  username,
		PublicKey: domain.PortableKey("pk-" + username),
	}, nil)
	require.Equal(h.t, http.StatusCreated, code)

	var sess domain.Session
	code = h.call(http.MethodPost, "/api/login", "", domain.Credentials{Email: email, Password: "password-" + username}, &sess)
	require.Equal(h.t, http.StatusOK, code)
	require.NotEmpty(h.t, sess.Token)
	return sess
}

func TestAccounts(t *testing.T) {
	h := newHarness(t)
	alice := h.signup("alice")
	assert.Equal(t, domain.PortableKey("pk-alice"), alice.User.PublicKey)

	var me domain.User
	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/api/me", alice.Token, nil, &me))
	assert.Equal(t, alice.User.ID, me.ID)

	assert.Equal(t, http.StatusConflict, h.call(http.MethodPost, "/api/register", "",
		domain.Registration{Email: "ALICE@example.com", Password: "x", Username: "other"}, nil))
	assert.Equal(t, http.StatusConflict, h.call(http.MethodPost, "/api/register", "",
		domain.Registration{Email: "new@example.com", Password: "x", Username: "Alice"}, nil))
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/api/register", "",
		domain.Registration{Email: "new@example.com"}, nil))
	assert.Equal(t, http.StatusUnauthorized, h.call(http.MethodPost, "/api/login", "",
		domain.Credentials{Email: "alice@example.com", Password: "wrong"}, nil))

	assert.Equal(t, http.StatusUnauthorized, h.call(http.MethodGet, "/api/me", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, h.call(http.MethodGet, "/api/chats", "bogus", nil, nil))

	require.Equal(t, http.StatusOK, h.call(http.MethodPost, "/api/logout", alice.Token, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, h.call(http.MethodGet, "/api/me", alice.Token, nil, nil))
}

func TestSearchUsers(t *testing.T) {
	h := newHarness(t)
	caller := h.signup("searcher")
	for i := 0; i < 12; i++ {
		h.signup(fmt.Sprintf("Member%02d", i))
	}
	h.signup("zed")

	var users []domain.User
	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/api/users/search?q=m", caller.Token, nil, &users))
	assert.Empty(t, users, "single-character query")

	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/api/users/search?q=mem", caller.Token, nil, &users))
	assert.Len(t, users, relayserver.SearchLimit)
	for _, u := range users {
		assert.True(t, strings.HasPrefix(u.Username, "Member"))
	}

	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/api/users/search?q=SEARCH", caller.Token, nil, &users))
	assert.Empty(t, users, "caller excluded")
}

func TestChats(t *testing.T) {
	h := newHarness(t)
	alice, bob, eve := h.signup("alice"), h.signup("bob"), h.signup("eve")

	var conv domain.Conversation
	code := h.call(http.MethodPost, "/api/chats", alice.Token, domain.NewConversation{
		ParticipantIDs: []domain.UserID{bob.User.ID, bob.User.ID, alice.User.ID},
		WrappedSecrets: map[domain.UserID]domain.WrappedSecret{
			alice.User.ID: "wa",
			bob.User.ID:   "wb",
			eve.User.ID:   "we",
		},
	}, &conv)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, relayserver.DefaultChatName, conv.Name)
	assert.Equal(t, []domain.UserID{alice.User.ID, bob.User.ID}, conv.Participants)
	assert.Equal(t, map[domain.UserID]domain.WrappedSecret{alice.User.ID: "wa", bob.User.ID: "wb"}, conv.WrappedSecrets)

	var got domain.Conversation
	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/api/chats/"+conv.ID.String(), bob.Token, nil, &got))
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, http.StatusNotFound, h.call(http.MethodGet, "/api/chats/"+conv.ID.String(), eve.Token, nil, nil))
	assert.Equal(t, http.StatusNotFound, h.call(http.MethodGet, "/api/messages/"+conv.ID.String(), eve.Token, nil, nil))

	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/api/chats", alice.Token, domain.NewConversation{}, nil))
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/api/chats", alice.Token,
		domain.NewConversation{ParticipantIDs: []domain.UserID{"nobody"}}, nil))

	var list []domain.Conversation
	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/api/chats", eve.Token, nil, &list))
	assert.Empty(t, list)
}

func dialStream(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) domain.StreamFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f domain.StreamFrame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func TestStream_PublishFanOut(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()
	defer h.srv.Shutdown()

	alice, bob, eve := h.signup("alice"), h.signup("bob"), h.signup("eve")
	var first, second domain.Conversation
	require.Equal(t, http.StatusCreated, h.call(http.MethodPost, "/api/chats", alice.Token,
		domain.NewConversation{ParticipantIDs: []domain.UserID{bob.User.ID}, Name: "first"}, &first))
	require.Equal(t, http.StatusCreated, h.call(http.MethodPost, "/api/chats", alice.Token,
		domain.NewConversation{ParticipantIDs: []domain.UserID{bob.User.ID}, Name: "second"}, &second))

	aliceWS := dialStream(t, ts, alice.Token)
	bobWS := dialStream(t, ts, bob.Token)
	eveWS := dialStream(t, ts, eve.Token)

	require.NoError(t, bobWS.WriteJSON(domain.StreamFrame{Type: domain.FrameSubscribe, ConversationID: first.ID}))
	require.NoError(t, aliceWS.WriteJSON(domain.StreamFrame{Type: domain.FrameSubscribe, ConversationID: first.ID}))

	// Eve cannot subscribe to a conversation she is not in.
	require.NoError(t, eveWS.WriteJSON(domain.StreamFrame{Type: domain.FrameSubscribe, ConversationID: first.ID}))
	f := readFrame(t, eveWS)
	assert.Equal(t, domain.FrameError, f.Type)

	// Frames are handled in order, so the reply to an invalid frame means the
	// subscribe before it has been applied.
	require.NoError(t, bobWS.WriteJSON(domain.StreamFrame{Type: "bogus"}))
	assert.Equal(t, domain.FrameError, readFrame(t, bobWS).Type)
	require.NoError(t, aliceWS.WriteJSON(domain.StreamFrame{Type: "bogus"}))
	assert.Equal(t, domain.FrameError, readFrame(t, aliceWS).Type)

	require.NoError(t, aliceWS.WriteJSON(domain.StreamFrame{
		Type:           domain.FramePublish,
		ConversationID: first.ID,
		Message: &domain.Message{
			ConversationID: first.ID,
			SenderID:       bob.User.ID, // ignored: the relay stamps the sender
			ClientID:       "c-1",
			Nonce:          "bm9uY2U=",
			Content:        "Y2lwaGVydGV4dA==",
		},
	}))

	for _, ws := range []*websocket.Conn{bobWS, aliceWS} {
		f := readFrame(t, ws)
		require.Equal(t, domain.FrameMessage, f.Type)
		require.NotNil(t, f.Message)
		assert.Equal(t, first.ID, f.Message.ConversationID)
		assert.Equal(t, alice.User.ID, f.Message.SenderID)
		assert.Equal(t, "alice", f.Message.SenderName)
		assert.Equal(t, domain.ClientMessageID("c-1"), f.Message.ClientID)
		assert.NotEmpty(t, f.Message.ID)
		assert.False(t, f.Message.Timestamp.IsZero())
	}

	var history []domain.Message
	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/api/messages/"+first.ID.String(), bob.Token, nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "Y2lwaGVydGV4dA==", history[0].Content)

	// The active conversation sorts first.
	var list []domain.Conversation
	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/api/chats", bob.Token, nil, &list))
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	// Publishing into a conversation the sender is not in is rejected.
	require.NoError(t, eveWS.WriteJSON(domain.StreamFrame{
		Type:    domain.FramePublish,
		Message: &domain.Message{ConversationID: first.ID, Content: "spam"},
	}))
	assert.Equal(t, domain.FrameError, readFrame(t, eveWS).Type)
	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/api/messages/"+first.ID.String(), bob.Token, nil, &history))
	assert.Len(t, history, 1)
}
