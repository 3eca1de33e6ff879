package relay

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cipherchat/internal/domain"
)

const (
	// StreamPath is the relay's websocket endpoint.
	StreamPath = "/api/stream"

	writeWait = 10 * time.Second
)

// Stream is a websocket connection to the relay's live message channel.
type Stream struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	handler func(domain.Message)

	done    chan struct{}
	err     error
	closeMu sync.Once
}

// StreamURL maps an http(s) relay base URL to its websocket endpoint.
func StreamURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", errors.Wrap(err, "parse relay url")
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path += StreamPath
	return u.String(), nil
}

// Dial connects to the relay at base, authenticating with token, and starts
// the read loop.
func Dial(ctx context.Context, base, token string, log zerolog.Logger) (*Stream, error) {
	target, err := StreamURL(base)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &StatusError{Method: http.MethodGet, URL: target, Code: resp.StatusCode}
		}
		return nil, errors.Wrapf(err, "dial %s", target)
	}

	s := &Stream{
		conn: conn,
		log:  log.With().Str("component", "stream").Logger(),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// OnMessage installs the handler for delivered messages. It runs on the read
// loop goroutine.
func (s *Stream) OnMessage(handler func(domain.Message)) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Subscribe asks the relay to deliver messages for id.
func (s *Stream) Subscribe(ctx context.Context, id domain.ConversationID) error {
	return s.write(ctx, domain.StreamFrame{Type: domain.FrameSubscribe, ConversationID: id})
}

// Unsubscribe stops delivery for id.
func (s *Stream) Unsubscribe(ctx context.Context, id domain.ConversationID) error {
	return s.write(ctx, domain.StreamFrame{Type: domain.FrameUnsubscribe, ConversationID: id})
}

// Publish sends msg to its conversation.
func (s *Stream) Publish(ctx context.Context, msg domain.Message) error {
	return s.write(ctx, domain.StreamFrame{
		Type:           domain.FramePublish,
		ConversationID: msg.ConversationID,
		Message:        &msg,
	})
}

// Done is closed when the read loop exits.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns why the read loop exited, once Done is closed.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Close shuts the connection down and waits for the read loop.
func (s *Stream) Close() error {
	var err error
	s.closeMu.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	<-s.done
	return err
}

func (s *Stream) write(ctx context.Context, frame domain.StreamFrame) error {
	select {
	case <-s.done:
		return errors.Wrap(s.err, "stream closed")
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(frame); err != nil {
		return errors.Wrapf(err, "write %s frame", frame.Type)
	}
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		var frame domain.StreamFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.err = errors.New("stream closed by relay")
			} else {
				s.err = errors.Wrap(err, "read frame")
			}
			return
		}

		switch frame.Type {
		case domain.FrameMessage:
			if frame.Message == nil {
				continue
			}
			s.mu.Lock()
			h := s.handler
			s.mu.Unlock()
			if h != nil {
				h(*frame.Message)
			}
		case domain.FrameError:
			s.log.Warn().Str("error", frame.Error).Str("conversation_id", frame.ConversationID.String()).Msg("relay rejected frame")
		default:
			s.log.Debug().Str("type", frame.Type).Msg("ignoring frame")
		}
	}
}

var _ domain.MessageStream = (*Stream)(nil)
