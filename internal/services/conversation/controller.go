package conversation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cipherchat/internal/domain"
	"cipherchat/internal/protocol/keyexchange"
	"cipherchat/internal/protocol/msgcrypt"
)

// openConversation is everything resident for the selected conversation. It
// is discarded, with its secret wiped, when the selection changes.
type openConversation struct {
	id         domain.ConversationID
	phase      domain.Phase
	secret     *domain.SessionSecret
	messages   []domain.DisplayMessage
	// pending maps the correlation ids of sent messages to their relay
	// echo, nil until the echo arrives ahead of the optimistic copy.
	pending    map[domain.ClientMessageID]*domain.Message
	subscribed bool
}

func (o *openConversation) state() domain.ConversationState {
	return domain.ConversationState{
		Phase:          o.phase,
		ConversationID: o.id,
		SecretPresent:  o.phase == domain.PhaseReady && o.secret != nil,
	}
}

// Controller owns the selected conversation of one logged-in user.
type Controller struct {
	me       domain.User
	keys     domain.KeyStore
	api      domain.ChatAPI
	stream   domain.MessageStream
	listener domain.ConversationListener
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	open   *openConversation

	// events holds listener notifications in the order the state changes
	// behind them were made; one goroutine at a time delivers them.
	events   []func(domain.ConversationListener)
	draining bool
}

// New returns a Controller for me and registers it as the stream's message
// handler. A nil listener is allowed.
func New(
	me domain.User,
	keys domain.KeyStore,
	api domain.ChatAPI,
	stream domain.MessageStream,
	listener domain.ConversationListener,
	log zerolog.Logger,
) *Controller {
	if listener == nil {
		listener = nopListener{}
	}
	c := &Controller{
		me:       me,
		keys:     keys,
		api:      api,
		stream:   stream,
		listener: listener,
		log:      log.With().Str("component", "conversation").Logger(),
		now:      time.Now,
	}
	stream.OnMessage(c.Receive)
	return c
}

// Select opens conversation id, closing whatever was open before.
//
// A conversation without a usable session secret still opens; the reason is
// logged and State reports SecretPresent == false. Relay failures return the
// error and leave the controller Closed. ErrSuperseded means a newer Select
// or Deselect overtook this one.
func (c *Controller) Select(ctx context.Context, id domain.ConversationID) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	prev := c.open
	c.open = &openConversation{
		id:      id,
		phase:   domain.PhaseLoading,
		pending: make(map[domain.ClientMessageID]*domain.Message),
	}
	loading := c.open.state()
	c.emit(func(l domain.ConversationListener) { l.ConversationSelected(loading) })
	c.mu.Unlock()
	defer cancel()

	c.teardown(ctx, prev)
	c.flush()

	conv, err := c.api.FetchConversation(loadCtx, id)
	if c.stale(gen, id) {
		return superseded(id)
	}
	if err != nil {
		c.abandon(gen, id)
		return errors.WithMessagef(err, "fetch conversation %s", id)
	}

	secret, err := c.recoverSecret(conv)
	if err != nil {
		c.log.Warn().Err(err).Str("conversation_id", id.String()).Msg("conversation opened without session secret")
	}

	history, err := c.api.FetchMessages(loadCtx, id)
	if c.stale(gen, id) {
		wipe(secret)
		return superseded(id)
	}
	if err != nil {
		wipe(secret)
		c.abandon(gen, id)
		return errors.WithMessagef(err, "fetch messages for %s", id)
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	display := make([]domain.DisplayMessage, 0, len(history))
	failed := 0
	for _, m := range history {
		dm := msgcrypt.OpenMessage(m, secret)
		if dm.Status == domain.StatusFailed {
			failed++
		}
		display = append(display, dm)
	}
	if failed > 0 {
		c.log.Warn().Int("count", failed).Str("conversation_id", id.String()).Msg("messages failed to decrypt")
	}

	if err := c.stream.Subscribe(loadCtx, id); err != nil {
		wipe(secret)
		if c.stale(gen, id) {
			return superseded(id)
		}
		c.abandon(gen, id)
		return errors.WithMessagef(err, "subscribe to %s", id)
	}

	c.mu.Lock()
	if c.gen != gen || c.open == nil || c.open.id != id {
		// Overtaken after subscribing. Drop the subscription unless the newer
		// selection is the same conversation.
		keep := c.open != nil && c.open.id == id
		c.mu.Unlock()
		wipe(secret)
		if !keep {
			if err := c.stream.Unsubscribe(ctx, id); err != nil {
				c.log.Debug().Err(err).Str("conversation_id", id.String()).Msg("unsubscribe superseded selection")
			}
		}
		return superseded(id)
	}
	o := c.open
	o.phase = domain.PhaseReady
	o.secret = secret
	o.messages = display
	o.subscribed = true
	ready := o.state()
	snapshot := append([]domain.DisplayMessage(nil), display...)
	c.emit(func(l domain.ConversationListener) {
		l.ConversationSelected(ready)
		l.HistoryLoaded(id, snapshot)
	})
	c.mu.Unlock()

	c.log.Debug().
		Str("conversation_id", id.String()).
		Bool("secret", secret != nil).
		Int("messages", len(snapshot)).
		Msg("conversation ready")
	c.flush()
	return nil
}

// Deselect closes the open conversation, if any.
func (c *Controller) Deselect(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	prev := c.open
	c.open = nil
	c.emit(closed)
	c.mu.Unlock()

	err := c.teardown(ctx, prev)
	c.flush()
	return err
}

// Receive handles one message from the live stream.
//
// Messages for other conversations, or arriving before the selected one is
// Ready, are dropped. The relay's echo of a message this controller sent is
// suppressed; the optimistic copy already shows it.
func (c *Controller) Receive(msg domain.Message) {
	c.mu.Lock()
	o := c.open
	if o == nil || o.phase != domain.PhaseReady || msg.ConversationID != o.id {
		c.mu.Unlock()
		return
	}
	if msg.SenderID == c.me.ID {
		if msg.ClientID == "" {
			c.mu.Unlock()
			return
		}
		if _, ok := o.pending[msg.ClientID]; ok {
			if o.confirm(msg) {
				delete(o.pending, msg.ClientID)
			} else {
				echo := msg
				o.pending[msg.ClientID] = &echo
			}
			c.mu.Unlock()
			return
		}
		// Own account, unknown correlation id: sent from another device.
	}
	dm := msgcrypt.OpenMessage(msg, o.secret)
	o.messages = append(o.messages, dm)
	c.emit(appended(msg.ConversationID, dm))
	c.mu.Unlock()

	if dm.Status == domain.StatusFailed {
		c.log.Warn().Str("conversation_id", msg.ConversationID.String()).Str("message_id", msg.ID.String()).Msg("message failed to decrypt")
	}
	c.flush()
}

// Send publishes text to the open conversation and appends the sender's
// optimistic copy. Blank input is ignored. The text is encrypted when the
// conversation has a session secret and sent as-is otherwise.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	o := c.open
	if o == nil || o.phase != domain.PhaseReady {
		c.mu.Unlock()
		return domain.ErrNoConversation
	}
	msg := domain.Message{
		ConversationID: o.id,
		SenderID:       c.me.ID,
		SenderName:     c.me.Username,
		ClientID:       domain.ClientMessageID(uuid.NewString()),
		Timestamp:      c.now().UTC(),
	}
	if o.secret != nil {
		nonce, content, err := msgcrypt.EncryptText(text, o.secret)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		msg.Nonce, msg.Content = nonce, content
	} else {
		msg.Content = text
		c.log.Warn().Str("conversation_id", o.id.String()).Msg("sending without encryption: no session secret")
	}
	o.pending[msg.ClientID] = nil
	c.mu.Unlock()

	if err := c.stream.Publish(ctx, msg); err != nil {
		c.mu.Lock()
		delete(o.pending, msg.ClientID)
		c.mu.Unlock()
		return errors.WithMessage(err, "publish")
	}

	c.mu.Lock()
	if c.open != o {
		c.mu.Unlock()
		return nil
	}
	dm := domain.DisplayMessage{Message: msg, Text: text, Status: domain.StatusPending}
	if echo := o.pending[msg.ClientID]; echo != nil {
		dm.ID = echo.ID
		dm.Timestamp = echo.Timestamp
		dm.Status = confirmedStatus(*echo)
		delete(o.pending, msg.ClientID)
	}
	o.messages = append(o.messages, dm)
	c.emit(appended(msg.ConversationID, dm))
	c.mu.Unlock()

	c.flush()
	return nil
}

// Messages returns a snapshot of the open conversation's messages.
func (c *Controller) Messages() []domain.DisplayMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return nil
	}
	return append([]domain.DisplayMessage(nil), c.open.messages...)
}

// State returns the controller's current state.
func (c *Controller) State() domain.ConversationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return domain.ConversationState{Phase: domain.PhaseClosed}
	}
	return c.open.state()
}

// recoverSecret unwraps the session secret addressed to me. Every failure
// wraps ErrNoSessionSecret.
func (c *Controller) recoverSecret(conv domain.Conversation) (*domain.SessionSecret, error) {
	wrapped, ok := conv.WrappedSecretFor(c.me.ID)
	if !ok {
		return nil, errors.Wrap(domain.ErrNoSessionSecret, "no wrapped secret for this user")
	}
	kp, _, err := c.keys.Lookup(c.me.ID.String(), c.me.Email)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrNoSessionSecret, "load local keys: %v", err)
	}
	if kp == nil {
		return nil, errors.Wrapf(domain.ErrNoSessionSecret, "%v", domain.ErrNoLocalKey)
	}
	secret, err := keyexchange.Unwrap(wrapped, kp.Private)
	if err != nil {
		return nil, errors.Wrapf(domain.ErrNoSessionSecret, "unwrap: %v", err)
	}
	return &secret, nil
}

// stale reports whether selection gen of id has been overtaken.
func (c *Controller) stale(gen uint64, id domain.ConversationID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen || c.open == nil || c.open.id != id
}

// abandon closes a failed selection if it is still current.
func (c *Controller) abandon(gen uint64, id domain.ConversationID) {
	c.mu.Lock()
	if c.gen != gen || c.open == nil || c.open.id != id {
		c.mu.Unlock()
		return
	}
	c.open = nil
	c.emit(closed)
	c.mu.Unlock()
	c.flush()
}

// emit queues a listener notification. The caller holds c.mu.
func (c *Controller) emit(fn func(domain.ConversationListener)) {
	c.events = append(c.events, fn)
}

// flush delivers queued notifications outside c.mu. When another goroutine,
// or a listener callback further up this stack, is already delivering, the
// events are left for it so the listener sees them in order.
func (c *Controller) flush() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.events) > 0 {
		fn := c.events[0]
		c.events[0] = nil
		c.events = c.events[1:]
		c.mu.Unlock()
		fn(c.listener)
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func closed(l domain.ConversationListener) {
	l.ConversationSelected(domain.ConversationState{Phase: domain.PhaseClosed})
}

func appended(id domain.ConversationID, dm domain.DisplayMessage) func(domain.ConversationListener) {
	return func(l domain.ConversationListener) { l.MessageAppended(id, dm) }
}

// teardown releases a detached conversation.
func (c *Controller) teardown(ctx context.Context, o *openConversation) error {
	if o == nil {
		return nil
	}
	c.mu.Lock()
	wipe(o.secret)
	o.secret = nil
	o.messages = nil
	o.pending = nil
	subscribed := o.subscribed
	c.mu.Unlock()

	if !subscribed {
		return nil
	}
	if err := c.stream.Unsubscribe(ctx, o.id); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", o.id.String()).Msg("unsubscribe failed")
		return errors.WithMessagef(err, "unsubscribe from %s", o.id)
	}
	return nil
}

// confirm updates the optimistic copy of msg with the relay's id and time.
// It reports false when the copy has not been appended yet.
func (o *openConversation) confirm(msg domain.Message) bool {
	for i := len(o.messages) - 1; i >= 0; i-- {
		dm := &o.messages[i]
		if dm.ClientID != msg.ClientID {
			continue
		}
		dm.ID = msg.ID
		dm.Timestamp = msg.Timestamp
		dm.Status = confirmedStatus(msg)
		return true
	}
	return false
}

func confirmedStatus(msg domain.Message) domain.MessageStatus {
	if msg.Encrypted() {
		return domain.StatusDecrypted
	}
	return domain.StatusPlain
}

func wipe(secret *domain.SessionSecret) {
	if secret != nil {
		keyexchange.Wipe(secret)
	}
}

func superseded(id domain.ConversationID) error {
	return errors.Wrapf(domain.ErrSuperseded, "select %s", id)
}

type nopListener struct{}

func (nopListener) ConversationSelected(domain.ConversationState) {}
func (nopListener) HistoryLoaded(domain.ConversationID, []domain.DisplayMessage) {}
func (nopListener) MessageAppended(domain.ConversationID, domain.DisplayMessage) {}

// Compile-time assertion that Controller implements domain.ConversationController.
var _ domain.ConversationController = (*Controller)(nil)
