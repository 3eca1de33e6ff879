package relayserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cipherchat/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 1 << 20
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Clients are not browsers; authentication is the bearer token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// hub tracks websocket connections and their conversation subscriptions.
type hub struct {
	store *memoryStore
	log   zerolog.Logger

	mu    sync.RWMutex
	subs  map[domain.ConversationID]map[*conn]struct{}
	conns map[*conn]struct{}
}

type conn struct {
	ws   *websocket.Conn
	user domain.User
	send chan domain.StreamFrame
	// topics is guarded by hub.mu.
	topics    map[domain.ConversationID]struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newHub(store *memoryStore, log zerolog.Logger) *hub {
	return &hub{
		store: store,
		log:   log,
		subs:  make(map[domain.ConversationID]map[*conn]struct{}),
		conns: make(map[*conn]struct{}),
	}
}

// serve upgrades an authenticated request and runs the connection.
func (h *hub) serve(c *gin.Context) {
	user := currentUser(c)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("websocket upgrade failed")
		return
	}
	cn := &conn{
		ws:     ws,
		user:   user,
		send:   make(chan domain.StreamFrame, sendBufferSize),
		topics: make(map[domain.ConversationID]struct{}),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[cn] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("user_id", user.ID.String()).Msg("stream connected")

	go h.writeLoop(cn)
	h.readLoop(cn)
}

func (h *hub) readLoop(cn *conn) {
	defer h.drop(cn)
	cn.ws.SetReadLimit(maxFrameSize)
	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame domain.StreamFrame
		if err := cn.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("user_id", cn.user.ID.String()).Msg("stream read failed")
			}
			return
		}
		h.handle(cn, frame)
	}
}

func (h *hub) handle(cn *conn, frame domain.StreamFrame) {
	switch frame.Type {
	case domain.FrameSubscribe:
		if _, err := h.store.chat(cn.user.ID, frame.ConversationID); err != nil {
			h.reject(cn, frame, err)
			return
		}
		h.mu.Lock()
		set, ok := h.subs[frame.ConversationID]
		if !ok {
			set = make(map[*conn]struct{})
			h.subs[frame.ConversationID] = set
		}
		set[cn] = struct{}{}
		cn.topics[frame.ConversationID] = struct{}{}
		h.mu.Unlock()

	case domain.FrameUnsubscribe:
		h.mu.Lock()
		h.unsubscribeLocked(cn, frame.ConversationID)
		h.mu.Unlock()

	case domain.FramePublish:
		if frame.Message == nil {
			h.reject(cn, frame, ErrInvalidRequest)
			return
		}
		msg := *frame.Message
		if frame.ConversationID != "" {
			msg.ConversationID = frame.ConversationID
		}
		stored, err := h.store.appendMessage(cn.user, msg)
		if err != nil {
			h.reject(cn, frame, err)
			return
		}
		h.broadcast(stored)

	default:
		h.reject(cn, frame, ErrInvalidRequest)
	}
}

// broadcast pushes msg to every connection subscribed to its conversation.
// A connection whose buffer is full is dropped.
func (h *hub) broadcast(msg domain.Message) {
	frame := domain.StreamFrame{Type: domain.FrameMessage, ConversationID: msg.ConversationID, Message: &msg}
	h.mu.RLock()
	var slow []*conn
	for cn := range h.subs[msg.ConversationID] {
		select {
		case cn.send <- frame:
		default:
			slow = append(slow, cn)
		}
	}
	h.mu.RUnlock()

	for _, cn := range slow {
		h.log.Warn().Str("user_id", cn.user.ID.String()).Msg("dropping slow stream")
		cn.close()
	}
}

func (h *hub) reject(cn *conn, frame domain.StreamFrame, err error) {
	select {
	case cn.send <- domain.StreamFrame{Type: domain.FrameError, ConversationID: frame.ConversationID, Error: err.Error()}:
	default:
	}
}

func (h *hub) writeLoop(cn *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case frame := <-cn.send:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteJSON(frame); err != nil {
				cn.close()
				return
			}
		case <-ticker.C:
			if err := cn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cn.close()
				return
			}
		case <-cn.done:
			_ = cn.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = cn.ws.Close()
			return
		}
	}
}

// drop forgets cn and all its subscriptions.
func (h *hub) drop(cn *conn) {
	h.mu.Lock()
	for id := range cn.topics {
		h.unsubscribeLocked(cn, id)
	}
	delete(h.conns, cn)
	h.mu.Unlock()
	cn.close()
	_ = cn.ws.Close()
	h.log.Debug().Str("user_id", cn.user.ID.String()).Msg("stream disconnected")
}

func (h *hub) unsubscribeLocked(cn *conn, id domain.ConversationID) {
	delete(cn.topics, id)
	if set, ok := h.subs[id]; ok {
		delete(set, cn)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for cn := range h.conns {
		conns = append(conns, cn)
	}
	h.mu.RUnlock()
	for _, cn := range conns {
		cn.close()
		_ = cn.ws.Close()
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
