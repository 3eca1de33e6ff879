package conversation_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/elixxir/ekv"

	"cipherchat/internal/domain"
	"cipherchat/internal/protocol/keyexchange"
	"cipherchat/internal/protocol/msgcrypt"
	"cipherchat/internal/services/chat"
	"cipherchat/internal/services/conversation"
	"cipherchat/internal/services/servicetest"
	"cipherchat/internal/store"
)

// recorder is a ConversationListener that keeps every event.
type recorder struct {
	mu       sync.Mutex
	states   []domain.ConversationState
	history  map[domain.ConversationID][]domain.DisplayMessage
	appended []domain.DisplayMessage
}

func newRecorder() *recorder {
	return &recorder{history: make(map[domain.ConversationID][]domain.DisplayMessage)}
}

func (r *recorder) ConversationSelected(s domain.ConversationState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) HistoryLoaded(id domain.ConversationID, msgs []domain.DisplayMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[id] = msgs
}

func (r *recorder) MessageAppended(_ domain.ConversationID, msg domain.DisplayMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appended = append(r.appended, msg)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.appended {
		out = append(out, m.Text)
	}
	return out
}

type user struct {
	servicetest.Member
	keys   *store.KeyStore
	events *recorder
	ctl    *conversation.Controller
}

type fixture struct {
	relay *servicetest.Relay
	alice *user
	bob   *user
	conv  domain.Conversation
}

func newUser(t *testing.T, m servicetest.Member) *user {
	t.Helper()
	u := &user{Member: m, keys: store.NewKeyStore(ekv.MakeMemstore()), events: newRecorder()}
	if m.Keys != nil {
		require.NoError(t, u.keys.PutKeyPair(m.User.ID.String(), m.Keys))
	}
	u.ctl = conversation.New(m.User, u.keys, m.Client, m.Client, u.events, zerolog.Nop())
	return u
}

// newFixture enrolls alice and bob and has alice create a conversation with bob.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	kps, err := servicetest.KeyPairs(2)
	require.NoError(t, err)

	f := &fixture{relay: servicetest.NewRelay()}
	a, err := f.relay.Enroll(ctx, "alice@example.com", "alice", kps[0])
	require.NoError(t, err)
	b, err := f.relay.Enroll(ctx, "bob@example.com", "bob", kps[1])
	require.NoError(t, err)
	f.alice, f.bob = newUser(t, a), newUser(t, b)

	svc := chat.New(f.alice.keys, f.alice.Client, zerolog.Nop())
	f.conv, err = svc.CreateConversation(ctx, a.User, []domain.User{b.User}, "")
	require.NoError(t, err)
	return f
}

// sealedFor encrypts text under the conversation secret as alice sees it.
func (f *fixture) sealedFor(t *testing.T, text string) (nonce, content string) {
	t.Helper()
	w, ok := f.conv.WrappedSecretFor(f.alice.User.ID)
	require.True(t, ok)
	secret, err := keyexchange.Unwrap(w, f.alice.Keys.Private)
	require.NoError(t, err)
	nonce, content, err = msgcrypt.EncryptText(text, &secret)
	require.NoError(t, err)
	return nonce, content
}

func TestHelloScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.alice.ctl.Select(ctx, f.conv.ID))
	require.NoError(t, f.bob.ctl.Select(ctx, f.conv.ID))
	assert.Equal(t, domain.ConversationState{Phase: domain.PhaseReady, ConversationID: f.conv.ID, SecretPresent: true}, f.bob.ctl.State())

	require.NoError(t, f.alice.ctl.Send(ctx, "  hello  "))

	// Bob sees the plaintext.
	assert.Equal(t, []string{"hello"}, f.bob.events.texts())
	bobMsgs := f.bob.ctl.Messages()
	require.Len(t, bobMsgs, 1)
	assert.Equal(t, domain.StatusDecrypted, bobMsgs[0].Status)
	assert.Equal(t, "alice", bobMsgs[0].SenderName)

	// Alice sees exactly one copy; the echo confirmed it.
	aliceMsgs := f.alice.ctl.Messages()
	require.Len(t, aliceMsgs, 1)
	assert.Equal(t, "hello", aliceMsgs[0].Text)
	assert.Equal(t, domain.StatusDecrypted, aliceMsgs[0].Status)
	assert.NotEmpty(t, aliceMsgs[0].ID)

	// The relay only ever held ciphertext.
	stored := f.relay.History(f.conv.ID)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Encrypted())
	assert.NotContains(t, stored[0].Content, "hello")

	// Bob replies; alice receives it.
	require.NoError(t, f.bob.ctl.Send(ctx, "hi alice"))
	assert.Equal(t, []string{"hello", "hi alice"}, f.alice.events.texts())

	// A fresh selection shows both messages from history, in order.
	require.NoError(t, f.bob.ctl.Deselect(ctx))
	require.NoError(t, f.bob.ctl.Select(ctx, f.conv.ID))
	var texts []string
	for _, m := range f.bob.ctl.Messages() {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"hello", "hi alice"}, texts)
}

func TestReceive_SelectionIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := f.relay.AddConversation(domain.Conversation{
		Name:         "other",
		Participants: []domain.UserID{f.alice.User.ID, f.bob.User.ID},
	})

	// Nothing selected: dropped.
	f.bob.Client.Deliver(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Content: "early"})
	require.NoError(t, f.bob.ctl.Select(ctx, f.conv.ID))

	f.bob.Client.Deliver(domain.Message{ConversationID: other.ID, SenderID: f.alice.User.ID, Content: "wrong chat"})
	f.bob.Client.Deliver(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Content: "right chat"})

	assert.Equal(t, []string{"right chat"}, f.bob.events.texts())
	msgs := f.bob.ctl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusPlain, msgs[0].Status)

	require.NoError(t, f.bob.ctl.Deselect(ctx))
	assert.False(t, f.bob.Client.Subscribed(f.conv.ID))
	assert.Equal(t, domain.PhaseClosed, f.bob.ctl.State().Phase)
	assert.Nil(t, f.bob.ctl.Messages())

	f.bob.Client.Deliver(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Content: "late"})
	assert.Equal(t, []string{"right chat"}, f.bob.events.texts())
}

func TestReceive_OwnMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.alice.ctl.Select(ctx, f.conv.ID))

	nonce, content := f.sealedFor(t, "from my phone")

	// Own sender without a correlation id: treated as an echo.
	f.alice.Client.Deliver(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Nonce: nonce, Content: content})
	assert.Empty(t, f.alice.ctl.Messages())

	// Own sender with an id this device never issued: another device.
	f.alice.Client.Deliver(domain.Message{
		ConversationID: f.conv.ID,
		SenderID:       f.alice.User.ID,
		ClientID:       "from-elsewhere",
		Nonce:          nonce,
		Content:        content,
	})
	msgs := f.alice.ctl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "from my phone", msgs[0].Text)
}

func TestSelect_Superseded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	second := f.relay.AddConversation(domain.Conversation{
		Name:         "second",
		Participants: []domain.UserID{f.alice.User.ID, f.bob.User.ID},
	})
	f.relay.Seed(domain.Message{ConversationID: second.ID, SenderID: f.alice.User.ID, Content: "in second"})

	entered := make(chan struct{})
	var once sync.Once
	f.bob.Client.Hook = func(ctx context.Context, call string) error {
		if call != "FetchMessages" {
			return nil
		}
		block := false
		once.Do(func() { block = true })
		if !block {
			return nil
		}
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}

	errc := make(chan error, 1)
	go func() { errc <- f.bob.ctl.Select(ctx, f.conv.ID) }()
	<-entered

	require.NoError(t, f.bob.ctl.Select(ctx, second.ID))

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, domain.ErrSuperseded), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("first selection never returned")
	}

	state := f.bob.ctl.State()
	assert.Equal(t, second.ID, state.ConversationID)
	assert.Equal(t, domain.PhaseReady, state.Phase)
	msgs := f.bob.ctl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "in second", msgs[0].Text)
	assert.False(t, f.bob.Client.Subscribed(f.conv.ID))
	assert.True(t, f.bob.Client.Subscribed(second.ID))
}

func TestSelect_WithoutSecret(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	nonce, content := f.sealedFor(t, "secret stuff")
	f.relay.Seed(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Nonce: nonce, Content: content})
	f.relay.Seed(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Content: "legacy"})

	// Bob on a device without his keys.
	bobElsewhere := newUser(t, servicetest.Member{User: f.bob.User, Client: f.relay.Client()})
	bobElsewhere.Client.SetToken(f.bob.Client.Token())

	require.NoError(t, bobElsewhere.ctl.Select(ctx, f.conv.ID))
	state := bobElsewhere.ctl.State()
	assert.Equal(t, domain.PhaseReady, state.Phase)
	assert.False(t, state.SecretPresent)

	msgs := bobElsewhere.ctl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.StatusLocked, msgs[0].Status)
	assert.Equal(t, domain.LockedText, msgs[0].Text)
	assert.Equal(t, domain.StatusPlain, msgs[1].Status)
	assert.Equal(t, "legacy", msgs[1].Text)

	// Live encrypted traffic is locked too.
	require.NoError(t, f.alice.ctl.Select(ctx, f.conv.ID))
	require.NoError(t, f.alice.ctl.Send(ctx, "still secret"))
	msgs = bobElsewhere.ctl.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.StatusLocked, msgs[2].Status)
}

func TestSelect_NoWrappedEntrySendsPlain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	legacy := f.relay.AddConversation(domain.Conversation{
		Name:         "legacy",
		Participants: []domain.UserID{f.alice.User.ID, f.bob.User.ID},
	})

	require.NoError(t, f.alice.ctl.Select(ctx, legacy.ID))
	assert.False(t, f.alice.ctl.State().SecretPresent)
	require.NoError(t, f.alice.ctl.Send(ctx, "in the clear"))

	stored := f.relay.History(legacy.ID)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].Encrypted())
	assert.Equal(t, "in the clear", stored[0].Content)
}

func TestSelect_HistoryOrderingAndSentinel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	n1, c1 := f.sealedFor(t, "first")
	n3, c3 := f.sealedFor(t, "third")
	corrupt := []byte(c3)
	if corrupt[0] == 'A' {
		corrupt[0] = 'B'
	} else {
		corrupt[0] = 'A'
	}

	base := servicetest.Epoch.Add(time.Hour)
	f.relay.Seed(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Nonce: n3, Content: c3, Timestamp: base.Add(3 * time.Second)})
	f.relay.Seed(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Nonce: n1, Content: c1, Timestamp: base.Add(1 * time.Second)})
	f.relay.Seed(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Nonce: n3, Content: string(corrupt), Timestamp: base.Add(2 * time.Second)})

	require.NoError(t, f.bob.ctl.Select(ctx, f.conv.ID))
	msgs := f.bob.ctl.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, domain.DecryptionFailedText, msgs[1].Text)
	assert.Equal(t, domain.StatusFailed, msgs[1].Status)
	assert.Equal(t, "third", msgs[2].Text)

	assert.Equal(t, msgs, f.bob.events.history[f.conv.ID])
}

func TestSend_Guards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.alice.ctl.Send(ctx, "nobody home")
	assert.Equal(t, domain.ErrNoConversation, err)

	require.NoError(t, f.alice.ctl.Select(ctx, f.conv.ID))
	require.NoError(t, f.alice.ctl.Send(ctx, " \n\t "))
	assert.Empty(t, f.relay.History(f.conv.ID))

	f.alice.Client.Hook = func(_ context.Context, call string) error {
		if call == "Publish" {
			return errors.New("socket closed")
		}
		return nil
	}
	err = f.alice.ctl.Send(ctx, "lost")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "socket closed"))
	assert.Empty(t, f.alice.ctl.Messages())
}

func TestSelect_FetchFailureCloses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.bob.ctl.Select(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, servicetest.ErrNotFound))
	assert.Equal(t, domain.PhaseClosed, f.bob.ctl.State().Phase)

	states := f.bob.events.states
	require.Len(t, states, 2)
	assert.Equal(t, domain.PhaseLoading, states[0].Phase)
	assert.Equal(t, domain.PhaseClosed, states[1].Phase)
}

// heldStream records published messages instead of relaying them, so a test
// decides when the echo arrives.
type heldStream struct {
	*servicetest.Client
	mu   sync.Mutex
	sent []domain.Message
}

func (h *heldStream) Publish(_ context.Context, msg domain.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, msg)
	return nil
}

func TestSend_EchoAfterOptimisticCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	held := &heldStream{Client: f.alice.Client}
	events := newRecorder()
	ctl := conversation.New(f.alice.User, f.alice.keys, f.alice.Client, held, events, zerolog.Nop())

	require.NoError(t, ctl.Select(ctx, f.conv.ID))
	require.NoError(t, ctl.Send(ctx, "hello"))

	msgs := ctl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusPending, msgs[0].Status)
	assert.Empty(t, msgs[0].ID)

	require.Len(t, held.sent, 1)
	echo := held.sent[0]
	echo.ID = "srv-1"
	echo.Timestamp = servicetest.Epoch.Add(time.Minute)
	f.alice.Client.Deliver(echo)

	msgs = ctl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageID("srv-1"), msgs[0].ID)
	assert.Equal(t, domain.StatusDecrypted, msgs[0].Status)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, echo.Timestamp, msgs[0].Timestamp)
	assert.Equal(t, []string{"hello"}, events.texts())
}

func TestSelect_UnwrapFailureDegrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	aliceCopy, ok := f.conv.WrappedSecretFor(f.alice.User.ID)
	require.True(t, ok)
	swapped := f.relay.AddConversation(domain.Conversation{
		Name:           "swapped",
		Participants:   []domain.UserID{f.alice.User.ID, f.bob.User.ID},
		WrappedSecrets: map[domain.UserID]domain.WrappedSecret{f.bob.User.ID: aliceCopy},
	})
	nonce, content := f.sealedFor(t, "unreadable")
	f.relay.Seed(domain.Message{ConversationID: swapped.ID, SenderID: f.alice.User.ID, Nonce: nonce, Content: content})

	require.NoError(t, f.bob.ctl.Select(ctx, swapped.ID))
	assert.Equal(t, domain.ConversationState{Phase: domain.PhaseReady, ConversationID: swapped.ID}, f.bob.ctl.State())
	msgs := f.bob.ctl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusLocked, msgs[0].Status)
	assert.Equal(t, domain.LockedText, msgs[0].Text)
}

func TestSelect_SubscribeFailureCloses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bob.Client.Hook = func(_ context.Context, call string) error {
		if call == "Subscribe" {
			return errors.New("stream down")
		}
		return nil
	}

	err := f.bob.ctl.Select(ctx, f.conv.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream down")
	assert.Equal(t, domain.PhaseClosed, f.bob.ctl.State().Phase)
	assert.False(t, f.bob.Client.Subscribed(f.conv.ID))
	assert.Nil(t, f.bob.ctl.Messages())
}

// subscribeHookStream runs after each successful subscription.
type subscribeHookStream struct {
	*servicetest.Client
	after func(id domain.ConversationID)
}

func (s *subscribeHookStream) Subscribe(ctx context.Context, id domain.ConversationID) error {
	if err := s.Client.Subscribe(ctx, id); err != nil {
		return err
	}
	s.after(id)
	return nil
}

func TestSelect_OvertakenAfterSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("different conversation", func(t *testing.T) {
		f := newFixture(t)
		second := f.relay.AddConversation(domain.Conversation{
			Name:         "second",
			Participants: []domain.UserID{f.alice.User.ID, f.bob.User.ID},
		})
		stream := &subscribeHookStream{Client: f.bob.Client}
		ctl := conversation.New(f.bob.User, f.bob.keys, f.bob.Client, stream, nil, zerolog.Nop())
		var once sync.Once
		stream.after = func(id domain.ConversationID) {
			if id == f.conv.ID {
				once.Do(func() { require.NoError(t, ctl.Select(ctx, second.ID)) })
			}
		}

		err := ctl.Select(ctx, f.conv.ID)
		assert.True(t, errors.Is(err, domain.ErrSuperseded), "got %v", err)
		assert.False(t, f.bob.Client.Subscribed(f.conv.ID))
		assert.True(t, f.bob.Client.Subscribed(second.ID))
		assert.Equal(t, second.ID, ctl.State().ConversationID)
		assert.Equal(t, domain.PhaseReady, ctl.State().Phase)
	})

	t.Run("same conversation", func(t *testing.T) {
		f := newFixture(t)
		stream := &subscribeHookStream{Client: f.bob.Client}
		ctl := conversation.New(f.bob.User, f.bob.keys, f.bob.Client, stream, nil, zerolog.Nop())
		reselected := false
		stream.after = func(id domain.ConversationID) {
			if reselected {
				return
			}
			reselected = true
			require.NoError(t, ctl.Select(ctx, f.conv.ID))
		}

		err := ctl.Select(ctx, f.conv.ID)
		assert.True(t, errors.Is(err, domain.ErrSuperseded), "got %v", err)
		assert.True(t, f.bob.Client.Subscribed(f.conv.ID))
		assert.Equal(t, domain.ConversationState{Phase: domain.PhaseReady, ConversationID: f.conv.ID, SecretPresent: true}, ctl.State())
	})
}

// sequence records listener events in order. onReady runs inside the
// ConversationSelected callback for a Ready state.
type sequence struct {
	mu      sync.Mutex
	events  []string
	onReady func()
}

func (s *sequence) add(e string) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *sequence) ConversationSelected(state domain.ConversationState) {
	s.add("state:" + state.Phase.String())
	if state.Phase == domain.PhaseReady && s.onReady != nil {
		s.onReady()
	}
}

func (s *sequence) HistoryLoaded(_ domain.ConversationID, msgs []domain.DisplayMessage) {
	for _, m := range msgs {
		s.add("history:" + m.Text)
	}
}

func (s *sequence) MessageAppended(_ domain.ConversationID, m domain.DisplayMessage) {
	s.add("live:" + m.Text)
}

func TestSelect_HistoryDeliveredBeforeLiveMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.relay.Seed(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Content: "old"})

	seq := &sequence{}
	var once sync.Once
	seq.onReady = func() {
		once.Do(func() {
			f.bob.Client.Deliver(domain.Message{ConversationID: f.conv.ID, SenderID: f.alice.User.ID, Content: "new"})
		})
	}
	ctl := conversation.New(f.bob.User, f.bob.keys, f.bob.Client, f.bob.Client, seq, zerolog.Nop())

	require.NoError(t, ctl.Select(ctx, f.conv.ID))
	assert.Equal(t, []string{"state:loading", "state:ready", "history:old", "live:new"}, seq.events)
	assert.Len(t, ctl.Messages(), 2)
}

func TestDeselect_UnsubscribesAndForgets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.bob.ctl.Select(ctx, f.conv.ID))
	require.True(t, f.bob.Client.Subscribed(f.conv.ID))

	require.NoError(t, f.bob.ctl.Deselect(ctx))
	assert.False(t, f.bob.Client.Subscribed(f.conv.ID))
	assert.Equal(t, domain.ConversationState{Phase: domain.PhaseClosed}, f.bob.ctl.State())
	assert.Equal(t, domain.ErrNoConversation, f.bob.ctl.Send(ctx, "anyone?"))

	states := f.bob.events.states
	assert.Equal(t, domain.PhaseClosed, states[len(states)-1].Phase)
}
